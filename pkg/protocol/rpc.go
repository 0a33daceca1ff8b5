package protocol

import (
	"bytes"
	"encoding/json"
)

// JSON-RPC 2.0 error codes used by the MCP bridge.
const (
	RPCParseError       = -32700
	RPCInvalidRequest   = -32600
	RPCMethodNotFound   = -32601
	RPCInvalidParams    = -32602
	RPCInternalError    = -32603
	RPCResourceNotFound = -32004
)

// RPCVersion is the only accepted jsonrpc field value.
const RPCVersion = "2.0"

// RPCRequest is a JSON-RPC 2.0 request or notification. A request without an
// id (or with a null id) is a notification and never receives a response.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *RPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

// RPCError is the error member of a response. Code follows JSON-RPC
// conventions.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RPCResponse carries either a result or an error, never both.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewRPCResult builds a success response for id.
func NewRPCResult(id json.RawMessage, result any) RPCResponse {
	return RPCResponse{JSONRPC: RPCVersion, ID: id, Result: result}
}

// NewRPCError builds an error response for id.
func NewRPCError(id json.RawMessage, code int, message string, data any) RPCResponse {
	return RPCResponse{
		JSONRPC: RPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// IsRPC reports whether data looks like a JSON-RPC 2.0 envelope. The command
// dispatcher probes with this before falling back to the command parser.
func IsRPC(data []byte) bool {
	var probe struct {
		JSONRPC string `json:"jsonrpc"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.JSONRPC == RPCVersion
}
