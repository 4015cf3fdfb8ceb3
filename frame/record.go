package frame

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

// Record is one immutable snapshot of all schema fields.
// Failed sensor reads are stored as NaN and encoded as null.
type Record struct {
	schema *Schema
	ts     time.Time
	values []float64
}

func NewRecord(schema *Schema, ts time.Time, values []float64) (*Record, error) {
	if schema == nil {
		return nil, errors.NotValidf("record schema=nil")
	}
	if len(values) != schema.Len() {
		return nil, errors.NotValidf("record values=%d schema fields=%d", len(values), schema.Len())
	}
	vs := make([]float64, len(values))
	copy(vs, values)
	return &Record{schema: schema, ts: ts, values: vs}, nil
}

func (r *Record) Schema() *Schema      { return r.schema }
func (r *Record) Timestamp() time.Time { return r.ts }

// TimestampText is second resolution wall clock in the zone of captured time.
func (r *Record) TimestampText() string { return r.ts.Format(TimestampLayout) }

func (r *Record) Len() int { return len(r.values) }

// At returns i-th field and value in schema order.
func (r *Record) At(i int) (Field, float64) { return r.schema.fields[i], r.values[i] }

func (r *Record) Get(id FieldID) (float64, bool) {
	i, ok := r.schema.Position(id)
	if !ok {
		return 0, false
	}
	return r.values[i], true
}

func (r *Record) String() string {
	s := fmt.Sprintf("%s=%s", TimestampLabel, r.TimestampText())
	for i, f := range r.schema.fields {
		s += fmt.Sprintf(" %s=%v", f.Sensor, r.values[i])
	}
	return s
}
