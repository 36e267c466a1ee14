package job

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"
)

// DefaultRetries is the backoff table in hours: half an hour through to a week.
var DefaultRetries = []float64{0.5, 1, 2, 12, 24, 48, 96, 168}

const DefaultMaxProcessingTime = 5 * time.Minute

// Authenticator decides whether a request token is accepted. The token is
// the bearer credential when the Authorization header uses the Bearer
// scheme and the whole header otherwise.
type Authenticator func(ctx context.Context, token string) (bool, error)

// SharedSecret accepts exactly one token.
func SharedSecret(secret string) Authenticator {
	return func(_ context.Context, token string) (bool, error) {
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1, nil
	}
}

// Definition describes one job type: its identity, options and hooks.
type Definition struct {
	Name              string
	Topic             string
	Kind              string
	Retries           []float64
	MaxProcessingTime time.Duration
	WrapInData        bool
	Authenticate      Authenticator
	CORSHosts         []string
	Hooks             Hooks
}

// WithDefaults fills unset options.
func (d Definition) WithDefaults() Definition {
	if d.Topic == "" {
		d.Topic = d.Name
	}
	if d.Kind == "" {
		d.Kind = d.Name
	}
	if d.Retries == nil {
		d.Retries = append([]float64(nil), DefaultRetries...)
	}
	if d.MaxProcessingTime <= 0 {
		d.MaxProcessingTime = DefaultMaxProcessingTime
	}
	return d
}

func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("job definition: name is required")
	}
	for i, h := range d.Retries {
		if h < 0 {
			return fmt.Errorf("job definition %s: retry offset %d is negative", d.Name, i)
		}
	}
	return nil
}

// Backoff returns the delay for the given retry count and whether the
// budget still allows another attempt.
func (d Definition) Backoff(retries int) (time.Duration, bool) {
	if retries < 0 || retries >= len(d.Retries) {
		return 0, false
	}
	return time.Duration(d.Retries[retries] * float64(time.Hour)), true
}
