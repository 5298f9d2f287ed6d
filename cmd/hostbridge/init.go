package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/store/sqlite"
)

// defaultConfig is written by `hostbridge init`. The policy section ships
// with approval gates on configuration-file writes; the commented rule shows
// the scripted-condition form.
const defaultConfig = `# HostBridge configuration.
# Values may reference environment variables: ${VAR} or ${VAR:-default}.

listen_addr: "127.0.0.1:8090"

# The admin API (HITL decisions, audit queries, secrets management) is
# disabled until a password is set.
admin_password: ${HOSTBRIDGE_ADMIN_PASSWORD:-}

hitl:
  ttl_seconds: 300

audit:
  retention_days: 30

http:
  block_private_ips: true
  block_metadata_endpoints: true

policy:
  tools:
    fs_write:
      pattern_param: path
      hitl_patterns: ["*.conf", "*.env", "*.yaml", "*.yml"]
#  rules:
#    - name: big-writes
#      tools: [fs_write]
#      condition: "params.content && params.content.length > 100000"
#      action: hitl
#      reason: Large write needs review
`

func cmdInit() error {
	ctx := context.Background()

	cfg, err := config.Load(configPath())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	fmt.Printf("Workspace directory: %s\n", cfg.WorkspaceRoot)

	db, err := sqlite.New(ctx, cfg.DBPath())
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	_ = db.Close()
	fmt.Printf("Database created: %s\n", cfg.DBPath())

	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Config file created: %s\n", path)
	} else {
		fmt.Printf("Config file already exists: %s\n", path)
	}

	return nil
}
