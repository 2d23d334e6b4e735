// Package protocol implements the Stratum V1 wire types and error codes.
package protocol

import (
	"encoding/json"
)

// JSON-RPC error codes for Stratum.
const (
	ErrParseError         = -32700
	ErrInvalidRequest     = -32600
	ErrMethodNotFound     = -32601
	ErrInvalidParams      = -32602
	ErrInternalError      = -32603
	ErrStaleShare         = 20
	ErrJobNotFound        = 21
	ErrDuplicateShare     = 22
	ErrLowDifficultyShare = 23
	ErrUnauthorized       = 24
	ErrNotSubscribed      = 25
)

// VersionRollingMask is the mask the pool advertises for negotiated
// ASICBoost version-rolling (§4.4).
const VersionRollingMask = "1fffe000"

// Request represents a JSON-RPC request from the client.
type Request struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response represents a JSON-RPC response to the client.
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result"`
	Error  interface{} `json:"error"`
}

// Notification represents a JSON-RPC notification (no id).
type Notification struct {
	ID     interface{} `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// SubmitParams is the parsed form of mining.submit's positional array:
// [worker_name, job_id, extranonce2, ntime, nonce[, version_bits]].
type SubmitParams struct {
	WorkerName  string
	JobID       string
	Extranonce2 string
	NTime       string
	Nonce       string
	VersionBits string // empty unless version-rolling is in effect
	HasVersionBits bool
}

// ConfigureParams is the parsed form of mining.configure's positional
// array: [extensions[], extensionParams{}].
type ConfigureParams struct {
	Extensions []string
	Params     map[string]interface{}
}

// ParseConfigureParams parses mining.configure parameters.
func ParseConfigureParams(data json.RawMessage) (*ConfigureParams, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 1 {
		return &ConfigureParams{}, nil
	}

	result := &ConfigureParams{}
	if err := json.Unmarshal(raw[0], &result.Extensions); err != nil {
		return &ConfigureParams{}, nil
	}
	if len(raw) > 1 {
		_ = json.Unmarshal(raw[1], &result.Params)
	}
	return result, nil
}

// WantsVersionRolling reports whether the client requested the
// version-rolling extension in mining.configure.
func (c *ConfigureParams) WantsVersionRolling() bool {
	for _, ext := range c.Extensions {
		if ext == "version-rolling" {
			return true
		}
	}
	return false
}

// ParseAuthorizeParams parses mining.authorize's [username, password] params.
func ParseAuthorizeParams(data json.RawMessage) (username, password string, err error) {
	var params []interface{}
	if err := json.Unmarshal(data, &params); err != nil || len(params) < 1 {
		return "", "", ErrInvalidParamsError
	}
	username, _ = params[0].(string)
	if len(params) > 1 {
		password, _ = params[1].(string)
	}
	return username, password, nil
}

// ParseSubmitParams parses mining.submit parameters.
func ParseSubmitParams(data json.RawMessage) (*SubmitParams, error) {
	var params []interface{}
	if err := json.Unmarshal(data, &params); err != nil || len(params) < 5 {
		return nil, ErrInvalidParamsError
	}

	result := &SubmitParams{}
	result.WorkerName, _ = params[0].(string)
	result.JobID, _ = params[1].(string)
	result.Extranonce2, _ = params[2].(string)
	result.NTime, _ = params[3].(string)
	result.Nonce, _ = params[4].(string)
	if len(params) > 5 {
		if vb, ok := params[5].(string); ok {
			result.VersionBits = vb
			result.HasVersionBits = true
		}
	}

	return result, nil
}

// StratumError is a Stratum protocol error, rendered on the wire as the
// [code, message, null] triple (§7 "session-local protocol errors").
type StratumError struct {
	Code    int
	Message string
}

func (e *StratumError) Error() string {
	return e.Message
}

// ErrInvalidParamsError is returned by the Parse* helpers on malformed params.
var ErrInvalidParamsError = &StratumError{Code: ErrInvalidParams, Message: "Invalid parameters"}

// NewError creates a new Stratum error.
func NewError(code int, message string) *StratumError {
	return &StratumError{Code: code, Message: message}
}

// ToJSON converts the error to JSON-RPC error format.
func (e *StratumError) ToJSON() []interface{} {
	return []interface{}{e.Code, e.Message, nil}
}
