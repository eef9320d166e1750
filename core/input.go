package core

import "encoding/json"

// Request is the envelope every bridge operation arrives in.
// Transports decode one Request per message and hand it to the bridge.
type Request struct {
	// ID is echoed back on the Response so callers can match replies
	// on multiplexed transports (websocket).
	ID string `json:"id,omitempty"`

	// Op names the operation, e.g. "consensus.vote" or "memory.session.get".
	Op string `json:"op"`

	// Params holds the operation-specific input as raw JSON.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope returned for every Request.
type Response struct {
	ID     string      `json:"id,omitempty"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// DecodeParams unmarshals raw params into dst. Empty params leave dst untouched.
func DecodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return Invalidf("decode params: %v", err)
	}
	return nil
}
