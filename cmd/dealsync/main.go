package main

import (
	"os"

	"github.com/dealsync/backend/internal/interfaces/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
