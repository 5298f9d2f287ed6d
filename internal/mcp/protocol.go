package mcp

import "encoding/json"

// Wire types for the JSON-RPC 2.0 framing and the MCP payloads this server
// speaks. Only the fields the hostbridge surface uses are modeled; unknown
// fields in client messages are ignored by decoding.

// Request is one incoming JSON-RPC call. A nil ID marks a notification,
// which gets no response body.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response mirrors the request id. ID has no omitempty: when a request
// could not even be parsed the response carries id null, per spec.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a failed response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 codes plus the server's session code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeSessionNotFound rejects calls whose Mcp-Session-Id is missing,
	// unknown, or expired.
	CodeSessionNotFound = -32001
)

// InitializeParams is what the client offers during the handshake. The
// offered protocolVersion is logged but not negotiated; see initialize
// handling in server.go.
type InitializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo names the connecting client, for logs only.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the handshake reply.
type InitializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    ServerCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

// ServerCapability advertises what this server does: tools, nothing else.
type ServerCapability struct {
	Tools *ToolCapability `json:"tools,omitempty"`
}

// ToolCapability. ListChanged stays false; the catalog is fixed for the
// process lifetime.
type ToolCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the server in the handshake reply.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is one tools/list entry.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CallToolRequest is the params of tools/call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult carries the tool outcome in-band; IsError distinguishes a
// tool failure from a protocol error.
type CallToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ToolContent is one result item. This server only ever emits type "text"
// holding rendered JSON.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
