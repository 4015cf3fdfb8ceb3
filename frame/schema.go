// Package frame defines the telemetry record and builds one per sampling cycle.
package frame

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	TimestampLabel  = "Timestamp"
	TimestampLayout = "2006-01-02 15:04:05"
)

type FieldID int

const (
	FieldWaterTemp FieldID = iota
	FieldZoneTemp
	FieldHumidity
	FieldPH
	FieldUV
	FieldConductivity
	FieldBright
)

type Kind int

const (
	KindFloat Kind = iota
	KindInt
)

// Conversion maps raw sensor reading to engineering units.
// Must be pure: same input, same output, no side effects.
type Conversion func(raw float64) float64

type Field struct {
	ID     FieldID
	Label  string
	Sensor string // capability identity, used in logs and config
	Kind   Kind
	// fixed decimal places for KindFloat, ignored for KindInt
	Precision int
	// declared range of converted value, used only for worst case payload size
	Min, Max float64
	Convert  Conversion // nil = identity
}

func (f *Field) convert(raw float64) float64 {
	if f.Convert == nil {
		return raw
	}
	return f.Convert(raw)
}

// Schema is ordered fixed set of fields, Timestamp is implicit and always first.
type Schema struct {
	fields []Field
	index  map[FieldID]int
}

func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[FieldID]int, len(fields)),
	}
	labels := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.Label == "" || f.Label == TimestampLabel {
			return nil, errors.NotValidf("schema field=%d label=%q", i, f.Label)
		}
		if _, dup := labels[f.Label]; dup {
			return nil, errors.NotValidf("schema duplicate label=%q", f.Label)
		}
		if _, dup := s.index[f.ID]; dup {
			return nil, errors.NotValidf("schema duplicate id=%d", f.ID)
		}
		if f.Precision < 0 || f.Min > f.Max {
			return nil, errors.NotValidf("schema field=%q precision=%d range=[%v,%v]", f.Label, f.Precision, f.Min, f.Max)
		}
		labels[f.Label] = struct{}{}
		s.index[f.ID] = i
		s.fields[i] = f
	}
	return s, nil
}

func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(fmt.Sprintf("code error schema: %v", err))
	}
	return s
}

func (s *Schema) Len() int { return len(s.fields) }

// Field returns i-th field in schema order.
func (s *Schema) Field(i int) Field { return s.fields[i] }

func (s *Schema) Fields() []Field {
	fs := make([]Field, len(s.fields))
	copy(fs, s.fields)
	return fs
}

func (s *Schema) Position(id FieldID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

func (s *Schema) Lookup(label string) (Field, bool) {
	for _, f := range s.fields {
		if f.Label == label {
			return f, true
		}
	}
	return Field{}, false
}

// DefaultSchema is the node payload layout, labels are consumed by dashboards byte-exact.
var DefaultSchema = MustSchema(
	Field{ID: FieldWaterTemp, Label: "Temperature H2O (°C)", Sensor: "water_temp",
		Kind: KindFloat, Precision: 2, Min: -127, Max: 125},
	Field{ID: FieldZoneTemp, Label: "Temperature Zone (°C)", Sensor: "zone_temp",
		Kind: KindFloat, Precision: 2, Min: -40, Max: 80},
	Field{ID: FieldHumidity, Label: "Humidity (%)", Sensor: "humidity",
		Kind: KindFloat, Precision: 2, Min: 0, Max: 100},
	Field{ID: FieldPH, Label: "pH Level", Sensor: "ph",
		Kind: KindFloat, Precision: 2, Min: 0, Max: 14, Convert: PHLevel},
	Field{ID: FieldUV, Label: "Ultraviolet Light", Sensor: "uv",
		Kind: KindFloat, Precision: 4, Min: 0, Max: 20, Convert: UVIntensity},
	Field{ID: FieldConductivity, Label: "Electrical Conductivity", Sensor: "tds",
		Kind: KindInt, Min: 0, Max: ADCMax},
	Field{ID: FieldBright, Label: "Bright Level", Sensor: "ldr",
		Kind: KindInt, Min: 0, Max: ADCMax},
)
