// Package tools implements the built-in tool catalog: workspace-confined
// filesystem access, shell and git subprocess wrappers, docker container
// control through the docker CLI, guarded HTTP egress, workspace
// introspection, and thin adapters over the memory graph and the plan
// executor. RegisterAll wires the whole catalog into a registry; handlers
// receive schema-validated, template-expanded parameters from the dispatch
// pipeline and return JSON-shaped results.
package tools

import (
	"encoding/json"
	"log/slog"

	"github.com/hostbridge/hostbridge/internal/memory"
	"github.com/hostbridge/hostbridge/internal/plan"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/toolerr"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

// Deps carries everything the catalog needs. Workspace is required; Secrets,
// Memory and Plans may be nil, in which case the tools depending on them are
// not registered.
type Deps struct {
	Workspace *workspace.Resolver
	Secrets   *secrets.Store
	Memory    *memory.Service
	Plans     *plan.Service
	Shell     ShellConfig
	HTTP      HTTPConfig
	Logger    *slog.Logger
}

// ShellConfig bounds the shell_execute tool. ExtraCommands extends the
// built-in allowlist; zero timeouts fall back to 60s default and 300s
// maximum.
type ShellConfig struct {
	ExtraCommands  []string
	DefaultTimeout int
	MaxTimeout     int
}

func (c ShellConfig) defaultTimeout() int {
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return 60
}

func (c ShellConfig) maxTimeout() int {
	if c.MaxTimeout > 0 {
		return c.MaxTimeout
	}
	return 300
}

// HTTPConfig bounds the http_request tool. The zero value blocks private
// and metadata addresses and allows any domain; zero limits fall back to a
// 30s default timeout, 120s maximum and a 1024 KB response cap. The Allow*
// fields disable guards and are meant for tests and closed networks.
type HTTPConfig struct {
	AllowPrivateHosts  bool
	AllowMetadataHosts bool
	AllowDomains       []string
	BlockDomains       []string
	DefaultTimeout     int
	MaxTimeout         int
	MaxResponseSizeKB  int
}

func (c HTTPConfig) defaultTimeout() int {
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return 30
}

func (c HTTPConfig) maxTimeout() int {
	if c.MaxTimeout > 0 {
		return c.MaxTimeout
	}
	return 120
}

func (c HTTPConfig) maxResponseKB() int {
	if c.MaxResponseSizeKB > 0 {
		return c.MaxResponseSizeKB
	}
	return 1024
}

// RegisterAll wires the complete built-in catalog into reg.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	register := []func(*registry.Registry, Deps) error{
		registerFS,
		registerWorkspace,
		registerShell,
		registerGit,
		registerDocker,
		registerHTTP,
		registerMemory,
		registerPlan,
	}
	for _, fn := range register {
		if err := fn(reg, deps); err != nil {
			return err
		}
	}
	return nil
}

// bind decodes tool params into a typed request via a JSON round trip.
// Schema validation has already run, so a decode failure here means the
// schema and the request type disagree about a field.
func bind(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return toolerr.InvalidParamf("invalid parameters: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return toolerr.InvalidParamf("invalid parameters: %v", err)
	}
	return nil
}

// out flattens a typed response into the generic result map the dispatch
// pipeline carries.
func out(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, toolerr.Internalf("encode tool result: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, toolerr.Internalf("encode tool result: %v", err)
	}
	return m, nil
}
