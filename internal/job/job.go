package job

import (
	"time"
)

// Payload is the caller-supplied job data. The core never interprets it
// beyond the optional createdAt attribute.
type Payload map[string]any

// CreatedAt returns the creation time carried in the payload, if any.
func (p Payload) CreatedAt() (time.Time, bool) {
	raw, ok := p["createdAt"]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

type Record struct {
	Key         string     `json:"key"`
	Kind        string     `json:"kind"`
	Payload     Payload    `json:"data"`
	CreatedAt   time.Time  `json:"createdAt"`
	NextAttempt *time.Time `json:"nextAttempt"`
	LastAttempt *time.Time `json:"lastAttempt"`
	ProcessedAt *time.Time `json:"processedAt"`
	FailedAt    *time.Time `json:"failedAt"`
	Retries     int        `json:"retries"`
	FirstError  string     `json:"firstError,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	InstanceID  string     `json:"instanceId"`
}

// Pending reports whether the record has reached neither terminal state.
func (r *Record) Pending() bool {
	return r.ProcessedAt == nil && r.FailedAt == nil
}

// Stalled reports whether the scheduled slot was already consumed by an
// attempt that never completed.
func (r *Record) Stalled() bool {
	if r.LastAttempt == nil {
		return false
	}
	if r.NextAttempt == nil {
		return true
	}
	return !r.NextAttempt.After(*r.LastAttempt)
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Payload     Payload
	NextAttempt *time.Time
	LastAttempt *time.Time
	ProcessedAt *time.Time
	FailedAt    *time.Time
	Retries     *int
	FirstError  *string
	LastError   *string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Payload == nil && p.NextAttempt == nil && p.LastAttempt == nil &&
		p.ProcessedAt == nil && p.FailedAt == nil && p.Retries == nil &&
		p.FirstError == nil && p.LastError == nil
}

// Apply copies the set fields of p onto r.
func (p Patch) Apply(r *Record) {
	if p.Payload != nil {
		r.Payload = p.Payload
	}
	if p.NextAttempt != nil {
		r.NextAttempt = timePtr(*p.NextAttempt)
	}
	if p.LastAttempt != nil {
		r.LastAttempt = timePtr(*p.LastAttempt)
	}
	if p.ProcessedAt != nil {
		r.ProcessedAt = timePtr(*p.ProcessedAt)
	}
	if p.FailedAt != nil {
		r.FailedAt = timePtr(*p.FailedAt)
	}
	if p.Retries != nil {
		r.Retries = *p.Retries
	}
	if p.FirstError != nil {
		r.FirstError = *p.FirstError
	}
	if p.LastError != nil {
		r.LastError = *p.LastError
	}
}

// FullPatch captures every mutable field of r.
func FullPatch(r *Record) Patch {
	p := Patch{
		Payload:     r.Payload,
		NextAttempt: r.NextAttempt,
		LastAttempt: r.LastAttempt,
		ProcessedAt: r.ProcessedAt,
		FailedAt:    r.FailedAt,
		Retries:     intPtr(r.Retries),
	}
	if r.FirstError != "" {
		p.FirstError = stringPtr(r.FirstError)
	}
	if r.LastError != "" {
		p.LastError = stringPtr(r.LastError)
	}
	return p
}

func timePtr(t time.Time) *time.Time { return &t }
func intPtr(i int) *int               { return &i }
func stringPtr(s string) *string      { return &s }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return timePtr(t) }

// Int returns a pointer to i.
func Int(i int) *int { return intPtr(i) }

// String returns a pointer to s.
func String(s string) *string { return stringPtr(s) }
