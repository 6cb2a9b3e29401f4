package hub

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Hub JSON protocol: every message is a JSON object terminated by 0x1e.
const recordSeparator byte = 0x1e

type messageType int

const (
	msgInvocation messageType = 1
	msgStreamItem messageType = 2
	msgCompletion messageType = 3
	msgPing       messageType = 6
	msgClose      messageType = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// frame is an inbound message; only the fields used by the client are decoded.
type frame struct {
	Type         messageType       `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type invocation struct {
	Type         messageType `json:"type"`
	InvocationID string      `json:"invocationId,omitempty"`
	Target       string      `json:"target"`
	Arguments    []any       `json:"arguments"`
}

type ping struct {
	Type messageType `json:"type"`
}

func encodeRecord(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// splitRecords returns the non-empty records contained in one transport message.
func splitRecords(data []byte) [][]byte {
	parts := bytes.Split(data, []byte{recordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}
