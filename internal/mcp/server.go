// Package mcp serves the tool catalog over the Model Context Protocol's
// streamable HTTP transport: JSON-RPC 2.0 on a single endpoint, with the
// session id carried in the Mcp-Session-Id header. Tool calls ride the same
// dispatch pipeline as the REST surface; only the framing differs.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// protocolVersion is the MCP revision this server speaks. Clients on newer
// revisions negotiate down per the protocol rules.
const protocolVersion = "2024-11-05"

const (
	sessionHeader = "Mcp-Session-Id"
	maxBodyBytes  = 4 << 20
)

// Server is the MCP endpoint handler. Mount it at /mcp.
type Server struct {
	engine   *dispatch.Engine
	registry *registry.Registry
	lists    *cache.ListCache
	version  string
	logger   *slog.Logger
	sessions *sessionTable
}

// NewServer wires the MCP adapter over the shared dispatch engine.
func NewServer(
	engine *dispatch.Engine,
	reg *registry.Registry,
	lists *cache.ListCache,
	version string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:   engine,
		registry: reg,
		lists:    lists,
		version:  version,
		logger:   logger,
		sessions: newSessionTable(),
	}
}

// ServeHTTP routes by method: POST carries JSON-RPC, DELETE ends a session,
// and GET is refused because the server opens no stream of its own.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.post(w, r)
	case http.MethodDelete:
		s.terminate(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) post(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, CodeParseError,
			"read request body: "+err.Error())
		return
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		writeRPCError(w, http.StatusBadRequest, nil, CodeInvalidRequest,
			"batch requests are not supported")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, CodeParseError,
			"invalid JSON: "+err.Error())
		return
	}

	// Notifications have no id and get no body back.
	if req.ID == nil {
		s.handleNotification(r, req)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, req)
		return
	}

	sid := r.Header.Get(sessionHeader)
	if sid == "" || !s.sessions.touch(sid) {
		writeRPCError(w, http.StatusNotFound, req.ID, CodeSessionNotFound,
			"Unknown or expired session; send initialize to begin a new one")
		return
	}

	var result json.RawMessage
	var rpcErr *RPCError
	switch req.Method {
	case "ping":
		result, _ = json.Marshal(map[string]any{})
	case "tools/list":
		result, rpcErr = s.handleToolsList()
	case "tools/call":
		result, rpcErr = s.handleToolsCall(r, sid, req.Params)
	default:
		rpcErr = &RPCError{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("unknown method: %s", req.Method),
		}
	}
	writeResponse(w, req.ID, result, rpcErr)
}

func (s *Server) handleInitialize(w http.ResponseWriter, req Request) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, http.StatusOK, req.ID, CodeInvalidParams,
				"invalid initialize params: "+err.Error())
			return
		}
	}

	sess := s.sessions.create(params.ClientInfo)
	s.logger.Info("mcp session initialized",
		"session_id", sess.id,
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version)

	result, err := json.Marshal(InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    ServerCapability{Tools: &ToolCapability{ListChanged: false}},
		ServerInfo:      ServerInfo{Name: "hostbridge", Version: s.version},
	})
	if err != nil {
		writeRPCError(w, http.StatusOK, req.ID, CodeInternalError, err.Error())
		return
	}
	w.Header().Set(sessionHeader, sess.id)
	writeResponse(w, req.ID, result, nil)
}

func (s *Server) handleNotification(r *http.Request, req Request) {
	switch req.Method {
	case "notifications/initialized":
		s.logger.Info("mcp client initialized",
			"session_id", r.Header.Get(sessionHeader))
	default:
		s.logger.Debug("unhandled notification", "method", req.Method)
	}
}

// handleToolsList renders the catalog in MCP form. The payload is cached per
// surface; secrets reloads invalidate it.
func (s *Server) handleToolsList() (json.RawMessage, *RPCError) {
	payload, err := s.lists.GetOrBuild(cache.ViewMCPTools, func() (json.RawMessage, error) {
		descs := s.registry.List()
		tools := make([]Tool, 0, len(descs))
		for _, d := range descs {
			schema := d.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			tools = append(tools, Tool{
				Name:        d.FullName(),
				Description: d.Description,
				InputSchema: schema,
			})
		}
		return json.Marshal(map[string]any{"tools": tools})
	})
	if err != nil {
		return nil, &RPCError{
			Code:    CodeInternalError,
			Message: fmt.Sprintf("render tool list: %v", err),
		}
	}
	return payload, nil
}

func (s *Server) handleToolsCall(r *http.Request, sid string, params json.RawMessage) (json.RawMessage, *RPCError) {
	var req CallToolRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if _, ok := s.registry.Lookup(req.Name); !ok {
		return nil, &RPCError{
			Code:    CodeInvalidParams,
			Message: fmt.Sprintf("Unknown tool: %s", req.Name),
		}
	}
	category, name, _ := strings.Cut(req.Name, "_")

	args := map[string]any{}
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			return nil, &RPCError{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("invalid tool arguments: %v", err),
			}
		}
	}

	inv := &dispatch.Invocation{
		Protocol: "mcp",
		Category: category,
		Name:     name,
		Params:   args,
		Context: map[string]any{
			"session_id":  sid,
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		},
	}
	result, err := s.engine.Dispatch(r.Context(), inv)
	if err != nil {
		return marshalCallResult(errorResult(err))
	}
	if result == nil {
		result = map[string]any{}
	}
	text, err := json.Marshal(result)
	if err != nil {
		return nil, &RPCError{
			Code:    CodeInternalError,
			Message: fmt.Sprintf("encode tool result: %v", err),
		}
	}
	return marshalCallResult(CallToolResult{
		Content: []ToolContent{{Type: "text", Text: string(text)}},
	})
}

func (s *Server) terminate(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(sessionHeader)
	if sid == "" {
		http.Error(w, "missing "+sessionHeader+" header", http.StatusBadRequest)
		return
	}
	if !s.sessions.remove(sid) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.logger.Info("mcp session terminated", "session_id", sid)
	w.WriteHeader(http.StatusNoContent)
}

// errorResult renders a classified failure as an in-band tool result, the
// MCP convention for execution errors as opposed to protocol errors. The
// payload is the same envelope the REST surface returns.
func errorResult(err error) CallToolResult {
	te := toolerr.Classify(err)
	payload := map[string]any{
		"error":      true,
		"error_type": string(te.Kind),
		"message":    te.Message,
	}
	switch te.Kind {
	case toolerr.KindSecurity:
		payload["suggestion"] = "Ensure the path is within the workspace boundary"
	case toolerr.KindTimeout, toolerr.KindHITLExpired:
		payload["suggestion"] = "Retry the request or contact the administrator"
	}
	if te.SuggestionTool != "" {
		payload["suggestion_tool"] = te.SuggestionTool
	}

	text, merr := json.Marshal(payload)
	if merr != nil {
		text = []byte(`{"error":true,"error_type":"internal_error","message":"internal error"}`)
	}
	return CallToolResult{
		Content: []ToolContent{{Type: "text", Text: string(text)}},
		IsError: true,
	}
}

func marshalCallResult(res CallToolResult) (json.RawMessage, *RPCError) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
	}
	return data, nil
}

func writeResponse(w http.ResponseWriter, id, result json.RawMessage, rpcErr *RPCError) {
	resp := Response{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
