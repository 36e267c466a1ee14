package job

import (
	"encoding/json"
	"time"

	"squall/internal/job"
)

// FailedJob is the admin view of a record whose retry budget ran out.
type FailedJob struct {
	Key        string          `json:"key"`
	Kind       string          `json:"kind"`
	Payload    job.Payload     `json:"payload"`
	Retries    int             `json:"retries"`
	FirstError json.RawMessage `json:"first_error,omitempty"`
	LastError  json.RawMessage `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FailedAt   time.Time       `json:"failed_at"`
}

func fromRecord(r *job.Record) FailedJob {
	f := FailedJob{
		Key:        r.Key,
		Kind:       r.Kind,
		Payload:    r.Payload,
		Retries:    r.Retries,
		FirstError: rawError(r.FirstError),
		LastError:  rawError(r.LastError),
		CreatedAt:  r.CreatedAt,
	}
	if r.FailedAt != nil {
		f.FailedAt = *r.FailedAt
	}
	return f
}

// rawError embeds serialized errors as JSON when they are JSON already.
func rawError(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
