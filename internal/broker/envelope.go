package broker

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope is the whole broker message: it names the job type and the
// record to load, never the payload itself.
type Envelope struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Encode renders the envelope as base64 of its JSON form.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(b)))
	base64.StdEncoding.Encode(out, b)
	return out, nil
}

// pushMessage covers the two JSON shapes used by push-style deliveries:
// {"data": "<b64>"} and {"message": {"data": "<b64>"}}.
type pushMessage struct {
	Data    string `json:"data"`
	Message *struct {
		Data string `json:"data"`
	} `json:"message"`
}

// Decode accepts a bare base64 body or one of the push wrappers.
func Decode(raw []byte) (Envelope, error) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return Envelope{}, fmt.Errorf("%w: empty body", ErrMalformedEnvelope)
	}

	if strings.HasPrefix(body, "{") {
		var pm pushMessage
		if err := json.Unmarshal([]byte(body), &pm); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		switch {
		case pm.Message != nil && pm.Message.Data != "":
			body = pm.Message.Data
		case pm.Data != "":
			body = pm.Data
		default:
			return Envelope{}, fmt.Errorf("%w: no data", ErrMalformedEnvelope)
		}
	}

	b, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.Name == "" || e.Key == "" {
		return Envelope{}, fmt.Errorf("%w: name and key are required", ErrMalformedEnvelope)
	}
	return e, nil
}
