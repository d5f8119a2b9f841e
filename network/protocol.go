package network

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/VanDung-dev/KVCache-Engine/cache"
)

// MaxMessageSize limits request and response payloads to prevent
// memory exhaustion from malformed or hostile frames.
const MaxMessageSize = 50 * 1024 * 1024 // 50MB

// Operations a cache server accepts.
const (
	OpPing   = "ping"
	OpGet    = "get"
	OpSet    = "set"
	OpDelete = "delete"
	OpKeys   = "keys"
	OpLen    = "len"
	OpClear  = "clear"
)

// Response codes for failed operations.
const (
	CodeNotFound     = "not_found"
	CodeAuthRequired = "auth_required"
	CodeAuthFailed   = "auth_failed"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

// Common errors for protocol operations
var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrInvalidRequest  = errors.New("invalid request")
)

// Request is one client operation against a cache server. Entry is
// only present for set; Token carries the shared auth secret when the
// server requires one.
type Request struct {
	ID    string       `msgpack:"id"`
	Op    string       `msgpack:"op"`
	Key   string       `msgpack:"key,omitempty"`
	Entry *cache.Entry `msgpack:"entry,omitempty"`
	Token string       `msgpack:"token,omitempty"`
}

// Validate checks if the request has required fields.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: request ID is required", ErrInvalidRequest)
	}
	if r.Op == "" {
		return fmt.Errorf("%w: operation is required", ErrInvalidRequest)
	}
	switch r.Op {
	case OpGet, OpDelete:
		if r.Key == "" {
			return fmt.Errorf("%w: key is required for %s", ErrInvalidRequest, r.Op)
		}
	case OpSet:
		if r.Key == "" {
			return fmt.Errorf("%w: key is required for set", ErrInvalidRequest)
		}
		if r.Entry == nil {
			return fmt.Errorf("%w: entry is required for set", ErrInvalidRequest)
		}
	case OpPing, OpKeys, OpLen, OpClear:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Op)
	}
	return nil
}

// Response answers one request. ID echoes the request so clients can
// discard stale replies. A failed operation carries a machine
// readable Code and a human readable Error.
type Response struct {
	ID      string       `msgpack:"id"`
	OK      bool         `msgpack:"ok"`
	Code    string       `msgpack:"code,omitempty"`
	Error   string       `msgpack:"error,omitempty"`
	Entry   *cache.Entry `msgpack:"entry,omitempty"`
	Keys    []string     `msgpack:"keys,omitempty"`
	Count   int          `msgpack:"count,omitempty"`
	Removed bool         `msgpack:"removed,omitempty"`
}

// EncodeRequest serializes a request for the wire.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// DecodeRequest parses a request from the wire.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var req Request
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	return &req, nil
}

// EncodeResponse serializes a response for the wire.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// DecodeResponse parses a response from the wire.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	var resp Response
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
