package main

import (
	"os"

	"github.com/kandev/mcphost/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
