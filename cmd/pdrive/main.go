package main

import (
	"os"

	"github.com/TraceLTRC/pdrive-cli/cmd/pdrive/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
