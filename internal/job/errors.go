package job

import (
	"encoding/json"
	"errors"
	"fmt"
)

type serializedError struct {
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Chain   []string `json:"chain,omitempty"`
}

// SerializeError renders err as a JSON document suitable for the
// firstError/lastError columns.
func SerializeError(err error) string {
	if err == nil {
		return ""
	}
	s := serializedError{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	for inner := errors.Unwrap(err); inner != nil; inner = errors.Unwrap(inner) {
		s.Chain = append(s.Chain, inner.Error())
	}
	b, mErr := json.Marshal(s)
	if mErr != nil {
		return fmt.Sprintf(`{"name":"error","message":%q}`, err.Error())
	}
	return string(b)
}
