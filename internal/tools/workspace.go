package tools

import (
	"context"
	"encoding/json"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

type workspaceTools struct {
	ws      *workspace.Resolver
	secrets *secrets.Store
	reg     *registry.Registry
}

func registerWorkspace(reg *registry.Registry, deps Deps) error {
	t := &workspaceTools{ws: deps.Workspace, secrets: deps.Secrets, reg: reg}

	descriptors := []*registry.Descriptor{
		{
			Category:    "workspace",
			Name:        "info",
			Description: "Describe the workspace: root directory, disk usage, registered tool categories and the number of configured secrets.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.info,
		},
		{
			Category:    "workspace",
			Name:        "secrets_list",
			Description: "List the names of configured secrets. Values are never returned; reference them in tool parameters as {{secret:NAME}}.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
			Handler:     t.secretsList,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type diskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// statDisk reports filesystem usage for the workspace mount. Failures
// degrade to zeros rather than failing the whole info call.
func statDisk(root string) diskUsage {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return diskUsage{}
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return diskUsage{Total: total, Used: total - free, Free: free}
}

type workspaceInfoResponse struct {
	DefaultWorkspace     string    `json:"default_workspace"`
	AvailableDirectories []string  `json:"available_directories"`
	DiskUsage            diskUsage `json:"disk_usage"`
	ToolCategories       []string  `json:"tool_categories"`
	SecretCount          int       `json:"secret_count"`
}

func (t *workspaceTools) info(ctx context.Context, params map[string]any) (map[string]any, error) {
	seen := map[string]bool{}
	categories := []string{}
	for _, d := range t.reg.List() {
		if !seen[d.Category] {
			seen[d.Category] = true
			categories = append(categories, d.Category)
		}
	}
	sort.Strings(categories)

	secretCount := 0
	if t.secrets != nil {
		secretCount = t.secrets.Len()
	}

	return out(workspaceInfoResponse{
		DefaultWorkspace:     t.ws.Root(),
		AvailableDirectories: []string{t.ws.Root()},
		DiskUsage:            statDisk(t.ws.Root()),
		ToolCategories:       categories,
		SecretCount:          secretCount,
	})
}

type secretsListResponse struct {
	Keys  []string `json:"keys"`
	Count int      `json:"count"`
}

func (t *workspaceTools) secretsList(ctx context.Context, params map[string]any) (map[string]any, error) {
	keys := []string{}
	if t.secrets != nil {
		keys = t.secrets.Keys()
	}
	sort.Strings(keys)
	return out(secretsListResponse{Keys: keys, Count: len(keys)})
}
