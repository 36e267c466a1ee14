package job

import (
	"context"
	"fmt"
	"reflect"
)

// SaveArgs is handed to the submission hooks. BeforeSave may mutate Payload
// in place; the mutation is persisted.
type SaveArgs struct {
	Key        string
	Payload    Payload
	DispatchID string
}

// ProcessArgs is handed to the processing hooks. Payload starts out
// aliasing Record.Payload, so in-place changes through either are persisted
// by the final write. A hook may also replace either map outright: Payload
// wins when it was reassigned, otherwise a reassigned Record.Payload does.
type ProcessArgs struct {
	Key     string
	Record  *Record
	Payload Payload
}

// ResolvedPayload returns the payload to persist after the hooks ran, given
// the map both fields held before them.
func (a *ProcessArgs) ResolvedPayload(original Payload) Payload {
	if !samePayload(a.Payload, original) {
		return a.Payload
	}
	if a.Record != nil && !samePayload(a.Record.Payload, original) {
		return a.Record.Payload
	}
	return original
}

// samePayload compares map identity, not contents.
func samePayload(a, b Payload) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

// Hooks is the set of optional extension points a job type supplies.
// A nil slot is a no-op.
type Hooks struct {
	Validate      func(ctx context.Context, payload Payload) error
	BeforeSave    func(ctx context.Context, args *SaveArgs) error
	AfterSave     func(ctx context.Context, args *SaveArgs) error
	BeforeProcess func(ctx context.Context, args *ProcessArgs) error
	Process       func(ctx context.Context, args *ProcessArgs) error
	AfterProcess  func(ctx context.Context, args *ProcessArgs) error
}

func (h Hooks) RunValidate(ctx context.Context, payload Payload) error {
	if h.Validate == nil {
		return nil
	}
	return guard("validate", func() error { return h.Validate(ctx, payload) })
}

func (h Hooks) RunBeforeSave(ctx context.Context, args *SaveArgs) error {
	return runSave("beforeSave", h.BeforeSave, ctx, args)
}

func (h Hooks) RunAfterSave(ctx context.Context, args *SaveArgs) error {
	return runSave("afterSave", h.AfterSave, ctx, args)
}

func (h Hooks) RunBeforeProcess(ctx context.Context, args *ProcessArgs) error {
	return runProcess("beforeProcess", h.BeforeProcess, ctx, args)
}

func (h Hooks) RunProcess(ctx context.Context, args *ProcessArgs) error {
	return runProcess("process", h.Process, ctx, args)
}

func (h Hooks) RunAfterProcess(ctx context.Context, args *ProcessArgs) error {
	return runProcess("afterProcess", h.AfterProcess, ctx, args)
}

func runSave(name string, fn func(context.Context, *SaveArgs) error, ctx context.Context, args *SaveArgs) error {
	if fn == nil {
		return nil
	}
	return guard(name, func() error { return fn(ctx, args) })
}

func runProcess(name string, fn func(context.Context, *ProcessArgs) error, ctx context.Context, args *ProcessArgs) error {
	if fn == nil {
		return nil
	}
	return guard(name, func() error { return fn(ctx, args) })
}

// PanicError wraps a value recovered from a panicking hook.
type PanicError struct {
	Hook  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s hook panicked: %v", e.Hook, e.Value)
}

func guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Hook: name, Value: r}
		}
	}()
	return fn()
}
