package sensor

import (
	"bytes"
	"io/ioutil"
	"strconv"

	"github.com/juju/errors"
)

// IIO reads one channel attribute of Linux industrial I/O device,
// e.g. dht11 driver in_temp_input, in_humidityrelative_input (milli units)
// or ADC in_voltageN_raw. Value = (raw + Offset) * Scale.
type IIO struct {
	Path   string
	Scale  float64
	Offset float64
}

func (s *IIO) Read() (float64, error) {
	b, err := ioutil.ReadFile(s.Path)
	if err != nil {
		// dht11 driver returns EIO/ETIMEDOUT on bad transfer, frame gets NaN
		return 0, errors.Annotatef(err, "iio path=%s", s.Path)
	}
	raw, err := strconv.ParseFloat(string(bytes.TrimSpace(b)), 64)
	if err != nil {
		return 0, errors.Annotatef(err, "iio path=%s parse", s.Path)
	}
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	return (raw + s.Offset) * scale, nil
}
