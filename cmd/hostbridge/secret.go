package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/secrets"
)

func cmdSecret(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hostbridge secret <init-key|set|list|rm> [args...]")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	sub := args[0]
	rest := args[1:]

	if sub == "init-key" {
		return secretInitKey(cfg)
	}

	// The remaining subcommands edit the encrypted vault. A plain env file
	// is edited with any text editor; only .age files go through here.
	if !strings.HasSuffix(cfg.Secrets.File, ".age") {
		return fmt.Errorf("secrets.file is %s; point it at a .age vault to manage it with this command", cfg.Secrets.File)
	}
	vault, err := secrets.OpenVault(cfg.Secrets.File, cfg.Secrets.IdentityFile)
	if err != nil {
		return fmt.Errorf("open vault: %w (run `hostbridge secret init-key` first)", err)
	}

	switch sub {
	case "set":
		if len(rest) < 2 {
			return fmt.Errorf("usage: hostbridge secret set <key> <value>")
		}
		if err := vault.Set(rest[0], rest[1]); err != nil {
			return fmt.Errorf("set secret: %w", err)
		}
		fmt.Printf("Secret %q set\n", rest[0])

	case "list":
		keys, err := vault.Keys()
		if err != nil {
			return fmt.Errorf("list secrets: %w", err)
		}
		for _, k := range keys {
			fmt.Println(k)
		}

	case "rm":
		if len(rest) < 1 {
			return fmt.Errorf("usage: hostbridge secret rm <key>")
		}
		if err := vault.Remove(rest[0]); err != nil {
			return fmt.Errorf("remove secret: %w", err)
		}
		fmt.Printf("Secret %q removed\n", rest[0])

	default:
		return fmt.Errorf("unknown secret command: %s\nUsage: hostbridge secret <init-key|set|list|rm>", sub)
	}

	return nil
}

func secretInitKey(cfg *config.Config) error {
	path := cfg.Secrets.IdentityFile
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity file already exists: %s", path)
	}
	recipient, err := secrets.GenerateIdentity(path)
	if err != nil {
		return err
	}
	fmt.Printf("Identity written to %s\n", path)
	fmt.Printf("Public recipient: %s\n", recipient)
	return nil
}
