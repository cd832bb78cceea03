package storage

import (
	"strconv"
)

const schemaVersion = 1

type initStorageFunc func(d *DB) error

var initStorageFuncs = []initStorageFunc{
	initSchemaVersion,
}

func (d *DB) initStorage() error {
	for _, f := range initStorageFuncs {
		if err := f(d); err != nil {
			return &StorageError{Op: "init", Path: d.path, Err: err}
		}
	}
	return nil
}

func initSchemaVersion(d *DB) error {
	return d.put([]byte(schemaVersionKey), []byte(strconv.Itoa(schemaVersion)))
}

func (d *DB) SchemaVersion() (int, error) {
	value, err := d.get([]byte(schemaVersionKey))
	if err != nil {
		return 0, err
	}
	if len(value) == 0 {
		return 0, nil
	}
	return strconv.Atoi(string(value))
}
