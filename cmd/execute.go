// Package cmd contains the entry points of the simmer web process.
// All application logic lives here so main.go stays a minimal shim.
package cmd

import (
	"fmt"
	"os"
)

// Execute routes the subcommand. No arguments starts the web server.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			return executeServe()
		case "waitready":
			return executeWaitReady(os.Args[2:])
		case "version", "--version", "-v":
			printVersionInfo()
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		default:
			printHelp()
			return fmt.Errorf("unknown command: %s", os.Args[1])
		}
	}

	return executeServe()
}

func printHelp() {
	fmt.Println(`simmer - cooking assistant web service

Usage:
  simmer [command]

Commands:
  serve       Start the web server (default)
  waitready   Block until the web and agent processes answer healthy
  version     Print version information
  help        Show this help

Configuration is read from environment variables (SIMMER_* and
GEMINI_API_KEY) and ~/.simmer/config.yaml.`)
}
