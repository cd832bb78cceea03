package main

import "github.com/zjregee/convo/internal/cli"

func main() {
	cli.Execute()
}
