package frame

import (
	"math"
	"time"

	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/sensor"
	"github.com/juju/errors"
)

type Clock interface {
	Now() time.Time
}

// Sample is raw reading with sensor identity, lives only during one Build.
type Sample struct {
	Sensor string
	Raw    float64
}

type Builder struct {
	schema  *Schema
	clock   Clock
	log     *log2.Log
	readers []sensor.Reader
}

// NewBuilder binds one reader per schema field. Missing reader is configuration error.
func NewBuilder(schema *Schema, clock Clock, readers map[FieldID]sensor.Reader, log *log2.Log) (*Builder, error) {
	if schema == nil || clock == nil {
		return nil, errors.NotValidf("frame builder schema=%v clock=%v", schema, clock)
	}
	b := &Builder{
		schema:  schema,
		clock:   clock,
		log:     log,
		readers: make([]sensor.Reader, schema.Len()),
	}
	for i, f := range schema.fields {
		r, ok := readers[f.ID]
		if !ok || r == nil {
			return nil, errors.NotFoundf("sensor reader for field=%q", f.Label)
		}
		b.readers[i] = r
	}
	return b, nil
}

func (b *Builder) Schema() *Schema { return b.schema }

// Build samples every sensor exactly once in schema order and captures current time.
// Never fails: unreadable sensor yields NaN for its field.
func (b *Builder) Build() *Record {
	values := make([]float64, len(b.readers))
	for i, r := range b.readers {
		f := &b.schema.fields[i]
		raw, err := r.Read()
		if err != nil {
			b.log.Errorf("frame sensor=%s err=%v", f.Sensor, errors.Annotatef(err, "read %s", f.Label))
			values[i] = math.NaN()
			continue
		}
		s := Sample{Sensor: f.Sensor, Raw: raw}
		values[i] = f.convert(s.Raw)
		b.log.Debugf("frame sensor=%s raw=%v value=%v", s.Sensor, s.Raw, values[i])
	}
	return &Record{schema: b.schema, ts: b.clock.Now(), values: values}
}
