// Package main is the entry point for the workshop CLI and MCP server.
package main

import (
	"os"

	"github.com/HendryAvila/workshop/cmd/workshop/commands"
)

func main() {
	os.Exit(commands.Execute())
}
