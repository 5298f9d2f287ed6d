package main

import (
	"fmt"
	"os"

	"github.com/hostbridge/hostbridge/internal/config"
)

// version is stamped at build time via -ldflags "-X main.version=".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hostbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse subcommand from os.Args
	subcmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "serve":
		return cmdServe(args)
	case "init":
		return cmdInit()
	case "secret":
		return cmdSecret(args)
	case "version":
		fmt.Printf("hostbridge %s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nUsage: hostbridge [serve|init|secret|version]", subcmd)
	}
}

// configPath returns the config file location: HOSTBRIDGE_CONFIG if set,
// otherwise the default under the data directory.
func configPath() string {
	if v := os.Getenv("HOSTBRIDGE_CONFIG"); v != "" {
		return v
	}
	return config.DefaultFile()
}
