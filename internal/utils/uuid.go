package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func GenerateUUID() string {
	uuidStr := uuid.New().String()
	return strings.ReplaceAll(uuidStr, "-", "")[:8]
}

func GenerateSessionID() string {
	return fmt.Sprintf("session-%s", GenerateUUID())
}

func GenerateLocalMessageID() string {
	return fmt.Sprintf("local-%s", uuid.New().String())
}
