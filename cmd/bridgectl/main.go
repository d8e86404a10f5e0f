package main

import (
	"os"

	"llamabridge/internal/cli"
)

func main() {
	os.Exit(cli.Main())
}
