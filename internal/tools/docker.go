package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

const dockerTimeout = 60 * time.Second

// dockerEnvPassthrough lists daemon-selection variables forwarded to the
// docker CLI on top of the scrubbed base environment.
var dockerEnvPassthrough = []string{
	"DOCKER_HOST", "DOCKER_CONFIG", "DOCKER_CERT_PATH", "DOCKER_TLS_VERIFY",
}

var dockerActionPast = map[string]string{
	"start":   "started",
	"stop":    "stopped",
	"restart": "restarted",
	"pause":   "paused",
	"unpause": "unpaused",
}

type dockerTools struct {
	logger *slog.Logger
}

func registerDocker(reg *registry.Registry, deps Deps) error {
	t := &dockerTools{logger: deps.Logger}

	descriptors := []*registry.Descriptor{
		{
			Category:    "docker",
			Name:        "list",
			Description: "List containers on the host, optionally including stopped ones and filtering by name or status.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"all": {"type": "boolean", "default": false, "description": "Include stopped containers"},
				"filter_status": {"type": "string"},
				"filter_name": {"type": "string"}
			}
		}`),
			Handler: t.list,
		},
		{
			Category:    "docker",
			Name:        "inspect",
			Description: "Show detailed container information: configuration, network settings, mounts and state.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"container": {"type": "string", "description": "Container name or ID"}
			},
			"required": ["container"]
		}`),
			Handler: t.inspect,
		},
		{
			Category:    "docker",
			Name:        "logs",
			Description: "Fetch stdout and stderr from a container, bounded by a tail line count and an optional since timestamp.",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"container": {"type": "string", "description": "Container name or ID"},
				"tail": {"type": "integer", "minimum": 1, "default": 100},
				"since": {"type": "string", "description": "Only logs after this timestamp"}
			},
			"required": ["container"]
		}`),
			Handler: t.logs,
		},
		{
			Category:     "docker",
			Name:         "action",
			Description:  "Control a container lifecycle: start, stop, restart, pause or unpause. Reports the status before and after.",
			RequiresHITL: true,
			HITLReason:   "Container actions require approval",
			InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"container": {"type": "string", "description": "Container name or ID"},
				"action": {"type": "string", "enum": ["start", "stop", "restart", "pause", "unpause"]},
				"timeout": {"type": "integer", "minimum": 1, "default": 10, "description": "Grace period in seconds for stop and restart"}
			},
			"required": ["container", "action"]
		}`),
			Handler: t.action,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// run executes one docker CLI subprocess. A non-zero exit is returned in the
// exit code; the error covers spawn failures and timeouts only.
func (t *dockerTools) run(ctx context.Context, args ...string) (stdout, stderr string, exit int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, dockerTimeout)
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(runCtx, "docker", args...)
	env := scrubbedEnv(nil)
	for _, k := range dockerEnvPassthrough {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	cmd.Env = env
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return "", "", 0, toolerr.Timeoutf(
			"Docker command timed out after %d seconds", int(dockerTimeout/time.Second))
	}
	if runCtx.Err() != nil {
		return "", "", 0, runCtx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exit = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound):
			return "", "", 0, toolerr.Internalf("Docker CLI not found in PATH")
		default:
			return "", "", 0, toolerr.Internalf("Failed to run docker: %v", runErr)
		}
	}
	return outBuf.String(), errBuf.String(), exit, nil
}

// cliError maps a failed docker CLI invocation to a tool error. The container
// argument is empty for commands that do not target a single container.
func (t *dockerTools) cliError(stderr, container, prefix string) error {
	msg := strings.TrimSpace(stderr)
	if strings.Contains(msg, "Cannot connect to the Docker daemon") {
		return toolerr.Internalf(
			"Failed to connect to Docker daemon. Ensure Docker socket is mounted and accessible: %s", msg)
	}
	if container != "" && strings.Contains(msg, "No such container") {
		return toolerr.NotFoundf("Container not found: %s", container)
	}
	return toolerr.Internalf("%s: %s", prefix, msg)
}

type dockerPortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// dockerInspectRaw is the subset of docker inspect output the tools consume.
type dockerInspectRaw struct {
	ID      string `json:"Id"`
	Name    string `json:"Name"`
	Created string `json:"Created"`
	Config  struct {
		Image      string            `json:"Image"`
		Hostname   string            `json:"Hostname"`
		User       string            `json:"User"`
		Env        []string          `json:"Env"`
		Cmd        []string          `json:"Cmd"`
		Entrypoint []string          `json:"Entrypoint"`
		WorkingDir string            `json:"WorkingDir"`
		Labels     map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Status     string `json:"Status"`
		Running    bool   `json:"Running"`
		Paused     bool   `json:"Paused"`
		Restarting bool   `json:"Restarting"`
		Pid        int    `json:"Pid"`
		ExitCode   int    `json:"ExitCode"`
		StartedAt  string `json:"StartedAt"`
		FinishedAt string `json:"FinishedAt"`
	} `json:"State"`
	NetworkSettings struct {
		Networks  map[string]json.RawMessage     `json:"Networks"`
		IPAddress string                         `json:"IPAddress"`
		Gateway   string                         `json:"Gateway"`
		Ports     map[string][]dockerPortBinding `json:"Ports"`
	} `json:"NetworkSettings"`
	Mounts []struct {
		Type        string `json:"Type"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
		Mode        string `json:"Mode"`
		RW          bool   `json:"RW"`
	} `json:"Mounts"`
}

func (t *dockerTools) inspectRaw(ctx context.Context, container, prefix string) (*dockerInspectRaw, error) {
	stdout, stderr, exit, err := t.run(ctx, "inspect", container)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, t.cliError(stderr, container, prefix)
	}
	var raws []dockerInspectRaw
	if err := json.Unmarshal([]byte(stdout), &raws); err != nil {
		return nil, toolerr.Internalf("%s: invalid inspect output: %v", prefix, err)
	}
	if len(raws) == 0 {
		return nil, toolerr.NotFoundf("Container not found: %s", container)
	}
	return &raws[0], nil
}

type dockerContainerInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Status  string   `json:"status"`
	State   string   `json:"state"`
	Ports   []string `json:"ports"`
	Created string   `json:"created"`
}

func containerInfo(raw *dockerInspectRaw) dockerContainerInfo {
	id := raw.ID
	if len(id) > 12 {
		id = id[:12]
	}
	image := raw.Config.Image
	if image == "" {
		image = "unknown"
	}
	state := raw.State.Status
	if state == "" {
		state = "unknown"
	}
	var status string
	switch state {
	case "running":
		status = fmt.Sprintf("Up (started %s)", raw.State.StartedAt)
	case "exited":
		status = fmt.Sprintf("Exited (%d) at %s", raw.State.ExitCode, raw.State.FinishedAt)
	default:
		status = state
	}

	ports := []string{}
	portKeys := make([]string, 0, len(raw.NetworkSettings.Ports))
	for p := range raw.NetworkSettings.Ports {
		portKeys = append(portKeys, p)
	}
	sort.Strings(portKeys)
	for _, containerPort := range portKeys {
		bindings := raw.NetworkSettings.Ports[containerPort]
		if len(bindings) == 0 {
			ports = append(ports, containerPort)
			continue
		}
		for _, b := range bindings {
			hostIP := b.HostIP
			if hostIP == "" {
				hostIP = "0.0.0.0"
			}
			ports = append(ports, hostIP+":"+b.HostPort+"->"+containerPort)
		}
	}

	return dockerContainerInfo{
		ID:      id,
		Name:    strings.TrimPrefix(raw.Name, "/"),
		Image:   image,
		Status:  status,
		State:   state,
		Ports:   ports,
		Created: raw.Created,
	}
}

type dockerListRequest struct {
	All          bool   `json:"all"`
	FilterStatus string `json:"filter_status"`
	FilterName   string `json:"filter_name"`
}

type dockerListResponse struct {
	Containers []dockerContainerInfo `json:"containers"`
	TotalCount int                   `json:"total_count"`
}

func (t *dockerTools) list(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req dockerListRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}

	args := []string{"ps", "-q"}
	if req.All {
		args = append(args, "--all")
	}
	if req.FilterStatus != "" {
		args = append(args, "--filter", "status="+req.FilterStatus)
	}
	if req.FilterName != "" {
		args = append(args, "--filter", "name="+req.FilterName)
	}

	stdout, stderr, exit, err := t.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, t.cliError(stderr, "", "Failed to list containers")
	}

	ids := strings.Fields(stdout)
	containers := []dockerContainerInfo{}
	if len(ids) > 0 {
		inspectOut, inspectErr, exit, err := t.run(ctx, append([]string{"inspect"}, ids...)...)
		if err != nil {
			return nil, err
		}
		if exit != 0 {
			return nil, t.cliError(inspectErr, "", "Failed to list containers")
		}
		var raws []dockerInspectRaw
		if err := json.Unmarshal([]byte(inspectOut), &raws); err != nil {
			return nil, toolerr.Internalf("Failed to list containers: invalid inspect output: %v", err)
		}
		for i := range raws {
			containers = append(containers, containerInfo(&raws[i]))
		}
	}

	t.logger.Debug("docker list executed", "count", len(containers), "all", req.All)
	return out(dockerListResponse{Containers: containers, TotalCount: len(containers)})
}

type dockerInspectRequest struct {
	Container string `json:"container"`
}

type dockerConfigInfo struct {
	Hostname   string            `json:"hostname"`
	User       string            `json:"user"`
	Env        []string          `json:"env"`
	Cmd        []string          `json:"cmd"`
	Entrypoint []string          `json:"entrypoint"`
	WorkingDir string            `json:"working_dir"`
	Labels     map[string]string `json:"labels"`
}

type dockerNetworkInfo struct {
	Networks  []string                       `json:"networks"`
	IPAddress string                         `json:"ip_address"`
	Gateway   string                         `json:"gateway"`
	Ports     map[string][]dockerPortBinding `json:"ports"`
}

type dockerMountInfo struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode"`
	RW          bool   `json:"rw"`
}

type dockerStateInfo struct {
	Status     string `json:"status"`
	Running    bool   `json:"running"`
	Paused     bool   `json:"paused"`
	Restarting bool   `json:"restarting"`
	Pid        int    `json:"pid"`
	ExitCode   int    `json:"exit_code"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type dockerInspectResponse struct {
	ID      string                         `json:"id"`
	Name    string                         `json:"name"`
	Image   string                         `json:"image"`
	Status  string                         `json:"status"`
	Config  dockerConfigInfo               `json:"config"`
	Network dockerNetworkInfo              `json:"network"`
	Mounts  []dockerMountInfo              `json:"mounts"`
	Ports   map[string][]dockerPortBinding `json:"ports"`
	Created string                         `json:"created"`
	State   dockerStateInfo                `json:"state"`
}

func (t *dockerTools) inspect(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req dockerInspectRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, toolerr.InvalidParamf("Container name or ID cannot be empty")
	}

	raw, err := t.inspectRaw(ctx, req.Container, "Failed to inspect container")
	if err != nil {
		return nil, err
	}

	id := raw.ID
	if len(id) > 12 {
		id = id[:12]
	}
	networks := make([]string, 0, len(raw.NetworkSettings.Networks))
	for name := range raw.NetworkSettings.Networks {
		networks = append(networks, name)
	}
	sort.Strings(networks)

	config := dockerConfigInfo{
		Hostname:   raw.Config.Hostname,
		User:       raw.Config.User,
		Env:        raw.Config.Env,
		Cmd:        raw.Config.Cmd,
		Entrypoint: raw.Config.Entrypoint,
		WorkingDir: raw.Config.WorkingDir,
		Labels:     raw.Config.Labels,
	}
	if config.Env == nil {
		config.Env = []string{}
	}
	if config.Cmd == nil {
		config.Cmd = []string{}
	}
	if config.Entrypoint == nil {
		config.Entrypoint = []string{}
	}
	if config.Labels == nil {
		config.Labels = map[string]string{}
	}

	ports := raw.NetworkSettings.Ports
	if ports == nil {
		ports = map[string][]dockerPortBinding{}
	}

	mounts := []dockerMountInfo{}
	for _, m := range raw.Mounts {
		mounts = append(mounts, dockerMountInfo{
			Type:        m.Type,
			Source:      m.Source,
			Destination: m.Destination,
			Mode:        m.Mode,
			RW:          m.RW,
		})
	}

	t.logger.Debug("docker inspect executed", "container", req.Container)
	return out(dockerInspectResponse{
		ID:     id,
		Name:   strings.TrimPrefix(raw.Name, "/"),
		Image:  raw.Config.Image,
		Status: raw.State.Status,
		Config: config,
		Network: dockerNetworkInfo{
			Networks:  networks,
			IPAddress: raw.NetworkSettings.IPAddress,
			Gateway:   raw.NetworkSettings.Gateway,
			Ports:     ports,
		},
		Mounts:  mounts,
		Ports:   ports,
		Created: raw.Created,
		State: dockerStateInfo{
			Status:     raw.State.Status,
			Running:    raw.State.Running,
			Paused:     raw.State.Paused,
			Restarting: raw.State.Restarting,
			Pid:        raw.State.Pid,
			ExitCode:   raw.State.ExitCode,
			StartedAt:  raw.State.StartedAt,
			FinishedAt: raw.State.FinishedAt,
		},
	})
}

type dockerLogsRequest struct {
	Container string `json:"container"`
	Tail      int    `json:"tail"`
	Since     string `json:"since"`
}

type dockerLogsResponse struct {
	Logs      string `json:"logs"`
	Container string `json:"container"`
	LineCount int    `json:"line_count"`
}

func (t *dockerTools) logs(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req dockerLogsRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, toolerr.InvalidParamf("Container name or ID cannot be empty")
	}
	tail := req.Tail
	if tail <= 0 {
		tail = 100
	}

	args := []string{"logs", "--tail", strconv.Itoa(tail)}
	if req.Since != "" {
		args = append(args, "--since", req.Since)
	}
	args = append(args, req.Container)

	stdout, stderr, exit, err := t.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, t.cliError(stderr, req.Container, "Failed to get container logs")
	}

	logs := strings.TrimSpace(stdout + stderr)
	lineCount := 0
	if logs != "" {
		lineCount = len(strings.Split(logs, "\n"))
	}

	t.logger.Debug("docker logs executed", "container", req.Container, "lines", lineCount)
	return out(dockerLogsResponse{Logs: logs, Container: req.Container, LineCount: lineCount})
}

type dockerActionRequest struct {
	Container string `json:"container"`
	Action    string `json:"action"`
	Timeout   int    `json:"timeout"`
}

type dockerActionResponse struct {
	Container      string `json:"container"`
	Action         string `json:"action"`
	Success        bool   `json:"success"`
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
	Message        string `json:"message"`
}

func (t *dockerTools) action(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req dockerActionRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}
	if req.Container == "" {
		return nil, toolerr.InvalidParamf("Container name or ID cannot be empty")
	}
	if _, ok := dockerActionPast[req.Action]; !ok {
		return nil, toolerr.InvalidParamf(
			"Invalid action: %s. Valid actions: start, stop, restart, pause, unpause", req.Action)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10
	}
	prefix := fmt.Sprintf("Failed to %s container", req.Action)

	before, err := t.inspectRaw(ctx, req.Container, prefix)
	if err != nil {
		return nil, err
	}

	args := []string{req.Action}
	if req.Action == "stop" || req.Action == "restart" {
		args = append(args, "--time", strconv.Itoa(timeout))
	}
	args = append(args, req.Container)

	_, stderr, exit, err := t.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if exit != 0 {
		return nil, t.cliError(stderr, req.Container, prefix)
	}

	// Give the daemon a moment to settle before reading the new status.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	after, err := t.inspectRaw(ctx, req.Container, prefix)
	if err != nil {
		return nil, err
	}

	t.logger.Info("docker action executed",
		"container", req.Container,
		"action", req.Action,
		"previous_status", before.State.Status,
		"new_status", after.State.Status)

	return out(dockerActionResponse{
		Container:      req.Container,
		Action:         req.Action,
		Success:        true,
		PreviousStatus: before.State.Status,
		NewStatus:      after.State.Status,
		Message: fmt.Sprintf("Successfully %s container %s",
			dockerActionPast[req.Action], req.Container),
	})
}
