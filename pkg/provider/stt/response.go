package stt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/voxpipe/pkg/voice"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrorMessage extracts a human-readable message from an error response
// body. It understands the JSON shapes used by the supported cloud APIs and
// falls back to the trimmed raw body.
func ErrorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err == nil {
		for _, raw := range []json.RawMessage{shaped.Error, shaped.Detail} {
			if msg := rawMessage(raw); msg != "" {
				return msg
			}
		}
		if shaped.Message != "" {
			return shaped.Message
		}
	}
	return strings.TrimSpace(string(body))
}

// rawMessage handles both {"message": "..."} objects and bare strings.
func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// CheckResponse returns nil for 2xx responses. Otherwise it drains the body
// and maps it to [voice.ServerError] or [voice.HTTPError].
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return voice.ResponseError(resp.StatusCode, ErrorMessage(body))
}

// TransportError wraps a failed round trip as [voice.TransportError].
// Context cancellation is returned unchanged so callers can tell a user
// cancel from a network failure.
func TransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &voice.TransportError{Op: op, Err: err}
}
