// Package payload serializes frame records into compact JSON objects with fixed size budget.
package payload

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aquanode/aquanode/frame"
	"github.com/juju/errors"
	jsoniter "github.com/json-iterator/go"
)

const DefaultBudget = 512

var ErrOverBudget = errors.New("payload over budget")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Encoder struct {
	budget int
}

func NewEncoder(budget int) *Encoder {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Encoder{budget: budget}
}

func (e *Encoder) Budget() int { return e.budget }

// Encode writes Timestamp then every field in schema order.
// Result over budget is an error, never truncated.
func (e *Encoder) Encode(r *frame.Record) ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField(frame.TimestampLabel)
	stream.WriteString(r.TimestampText())
	for i := 0; i < r.Len(); i++ {
		f, v := r.At(i)
		stream.WriteMore()
		stream.WriteObjectField(f.Label)
		stream.WriteRaw(formatValue(&f, v))
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, errors.Annotate(stream.Error, "payload encode")
	}
	if n := len(stream.Buffer()); n > e.budget {
		return nil, errors.Annotatef(ErrOverBudget, "size=%d budget=%d", n, e.budget)
	}
	b := make([]byte, len(stream.Buffer()))
	copy(b, stream.Buffer())
	return b, nil
}

// CheckSchema verifies that worst case payload of schema fits budget.
// Worst case takes longest of declared range ends and null for every field.
func (e *Encoder) CheckSchema(s *frame.Schema) error {
	n, err := WorstCase(s)
	if err != nil {
		return err
	}
	if n > e.budget {
		return errors.Annotatef(ErrOverBudget, "schema worst case size=%d budget=%d", n, e.budget)
	}
	return nil
}

func WorstCase(s *frame.Schema) (int, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	stream.WriteObjectField(frame.TimestampLabel)
	stream.WriteString(frame.TimestampLayout)
	for _, f := range s.Fields() {
		f := f
		stream.WriteMore()
		stream.WriteObjectField(f.Label)
		longest := "null"
		for _, v := range []float64{f.Min, f.Max} {
			if t := formatValue(&f, v); len(t) > len(longest) {
				longest = t
			}
		}
		stream.WriteRaw(longest)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return 0, errors.Annotate(stream.Error, "payload worst case")
	}
	return len(stream.Buffer()), nil
}

// Decode parses payload produced by Encode. Timestamp is read as UTC wall clock.
func Decode(s *frame.Schema, b []byte) (*frame.Record, error) {
	iter := jsoniter.ParseBytes(json, b)
	values := make([]float64, s.Len())
	seen := make([]bool, s.Len())
	var ts time.Time
	var tsSeen bool
	var err error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key == frame.TimestampLabel {
			text := it.ReadString()
			if ts, err = time.ParseInLocation(frame.TimestampLayout, text, time.UTC); err != nil {
				err = errors.NotValidf("payload timestamp=%q", text)
				return false
			}
			tsSeen = true
			return true
		}
		f, ok := s.Lookup(key)
		if !ok {
			err = errors.NotValidf("payload unknown field=%q", key)
			return false
		}
		i, _ := s.Position(f.ID)
		if seen[i] {
			err = errors.NotValidf("payload duplicate field=%q", key)
			return false
		}
		seen[i] = true
		if it.WhatIsNext() == jsoniter.NilValue {
			it.ReadNil()
			values[i] = math.NaN()
		} else {
			values[i] = it.ReadFloat64()
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if iter.Error != nil {
		return nil, errors.NotValidf("payload json: %v", iter.Error)
	}
	if !tsSeen {
		return nil, errors.NotValidf("payload missing field=%q", frame.TimestampLabel)
	}
	for i, ok := range seen {
		if !ok {
			return nil, errors.NotValidf("payload missing field=%q", s.Field(i).Label)
		}
	}
	return frame.NewRecord(s, ts, values)
}

// formatValue is fixed precision decimal, integer without point, null for NaN and Inf.
// Values that round to zero are written unsigned.
func formatValue(f *frame.Field, v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "null"
	}
	var t string
	switch f.Kind {
	case frame.KindInt:
		t = strconv.FormatFloat(math.Trunc(v), 'f', 0, 64)
	default:
		t = strconv.FormatFloat(v, 'f', f.Precision, 64)
	}
	if t[0] == '-' && strings.Trim(t[1:], "0.") == "" {
		t = t[1:]
	}
	return t
}
