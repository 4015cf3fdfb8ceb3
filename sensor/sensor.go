// Package sensor provides raw reading capabilities consumed by frame.Builder.
// Drivers do no calibration; invalid physical readings pass through as sentinels.
package sensor

import (
	"time"

	"github.com/aquanode/aquanode/helpers/cacheval"
)

// DS18B20/DallasTemperature reading of absent probe, reported as value not error.
const DisconnectedC = -127

type Reader interface {
	Read() (float64, error)
}

type ReaderFunc func() (float64, error)

func (f ReaderFunc) Read() (float64, error) { return f() }

type Fixed float64

func (f Fixed) Read() (float64, error) { return float64(f), nil }

// Set is named readers, name matches frame.Field.Sensor.
type Set map[string]Reader

// Cached limits polling rate of slow sensors, DHT22 needs 2s between samples.
type Cached struct {
	r Reader
	v cacheval.Float64
}

func NewCached(r Reader, valid time.Duration) *Cached {
	c := &Cached{r: r}
	c.v.Init(valid)
	return c
}

func (c *Cached) Read() (float64, error) { return c.v.GetOrUpdate(c.r.Read) }
