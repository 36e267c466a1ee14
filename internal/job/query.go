package job

import (
	"fmt"
	"time"
)

// Field names a queryable record attribute.
type Field string

const (
	FieldCreatedAt   Field = "createdAt"
	FieldNextAttempt Field = "nextAttempt"
	FieldLastAttempt Field = "lastAttempt"
	FieldProcessedAt Field = "processedAt"
	FieldFailedAt    Field = "failedAt"
	FieldRetries     Field = "retries"
)

type Op string

const (
	OpIsNull Op = "is null"
	OpEq     Op = "="
	OpLt     Op = "<"
	OpLte    Op = "<="
	OpGt     Op = ">"
	OpGte    Op = ">="
)

type Filter struct {
	Field Field
	Op    Op
	Value any
}

// Query selects records of one kind matching every filter.
type Query struct {
	Kind    string
	Filters []Filter
}

func NewQuery(kind string) *Query {
	return &Query{Kind: kind}
}

func (q *Query) IsNull(f Field) *Query {
	q.Filters = append(q.Filters, Filter{Field: f, Op: OpIsNull})
	return q
}

func (q *Query) Where(f Field, op Op, v any) *Query {
	q.Filters = append(q.Filters, Filter{Field: f, Op: op, Value: v})
	return q
}

// Validate rejects unknown fields and operand types that do not fit the field.
func (q *Query) Validate() error {
	if q.Kind == "" {
		return fmt.Errorf("query: kind is required")
	}
	for _, f := range q.Filters {
		switch f.Field {
		case FieldCreatedAt, FieldNextAttempt, FieldLastAttempt, FieldProcessedAt, FieldFailedAt:
			if f.Op == OpIsNull {
				continue
			}
			if _, ok := f.Value.(time.Time); !ok {
				return fmt.Errorf("query: %s requires a time operand, got %T", f.Field, f.Value)
			}
		case FieldRetries:
			if f.Op == OpIsNull {
				return fmt.Errorf("query: retries is never null")
			}
			if _, ok := f.Value.(int); !ok {
				return fmt.Errorf("query: retries requires an int operand, got %T", f.Value)
			}
		default:
			return fmt.Errorf("query: unknown field %q", f.Field)
		}
		switch f.Op {
		case OpEq, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("query: unknown operator %q", f.Op)
		}
	}
	return nil
}

// Match evaluates the query against r in memory. Drivers without a native
// predicate engine use it after loading candidates.
func (q *Query) Match(r *Record) bool {
	if r.Kind != q.Kind {
		return false
	}
	for _, f := range q.Filters {
		if !f.match(r) {
			return false
		}
	}
	return true
}

func (f Filter) match(r *Record) bool {
	if f.Field == FieldRetries {
		v, _ := f.Value.(int)
		return compare(f.Op, r.Retries-v)
	}

	var t *time.Time
	switch f.Field {
	case FieldCreatedAt:
		t = &r.CreatedAt
	case FieldNextAttempt:
		t = r.NextAttempt
	case FieldLastAttempt:
		t = r.LastAttempt
	case FieldProcessedAt:
		t = r.ProcessedAt
	case FieldFailedAt:
		t = r.FailedAt
	}

	if f.Op == OpIsNull {
		return t == nil
	}
	// Range and equality filters never match null values.
	if t == nil {
		return false
	}
	v, _ := f.Value.(time.Time)
	return compare(f.Op, t.Compare(v))
}

func compare(op Op, c int) bool {
	switch op {
	case OpEq:
		return c == 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}
