package sensor

import (
	"sync"
	"time"

	"github.com/aquanode/aquanode/crc"
	"github.com/aquanode/aquanode/helpers/atomic_clock"
	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

const (
	SHT3xDefaultAddr = 0x44
	sht3xMeasureTime = 15 * time.Millisecond
	// temperature and humidity readers share one measurement within this window
	sht3xShare = 500 * time.Millisecond
)

type I2CConfig struct {
	Bus string `hcl:"bus"`
}

type I2CTxFunc func(send, recv []byte) error

// SHT3x is I2C temperature/humidity sensor, drop-in for DHT22 zone readings.
type SHT3x struct {
	mu    sync.Mutex
	tx    I2CTxFunc
	sleep func(time.Duration)
	bus   i2c.BusCloser
	last  *atomic_clock.Clock
	temp  float64
	hum   float64
}

func OpenSHT3x(c *I2CConfig, addr uint16) (*SHT3x, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(c.Bus)
	if err != nil {
		return nil, errors.Annotatef(err, "I2C Open bus=%s", c.Bus)
	}
	if addr == 0 {
		addr = SHT3xDefaultAddr
	}
	dev := &i2c.Dev{Addr: addr, Bus: bus}
	s := newSHT3x(dev.Tx)
	s.bus = bus
	return s, nil
}

func newSHT3x(tx I2CTxFunc) *SHT3x {
	return &SHT3x{tx: tx, sleep: time.Sleep, last: atomic_clock.New(0)}
}

// Measure runs single shot high repeatability conversion.
func (s *SHT3x) Measure() (temp, hum float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measure()
}

func (s *SHT3x) measure() (float64, float64, error) {
	if err := s.tx([]byte{0x24, 0x00}, nil); err != nil {
		return 0, 0, errors.Annotate(err, "sht3x command")
	}
	s.sleep(sht3xMeasureTime)
	var r [6]byte
	if err := s.tx(nil, r[:]); err != nil {
		return 0, 0, errors.Annotate(err, "sht3x read")
	}
	for _, word := range [][]byte{r[0:3], r[3:6]} {
		if c := crc.Sensirion(word[:2]); c != word[2] {
			return 0, 0, errors.NotValidf("sht3x crc frame=%x expected=%02x actual=%02x", r, c, word[2])
		}
	}
	rawT := float64(uint16(r[0])<<8 | uint16(r[1]))
	rawH := float64(uint16(r[3])<<8 | uint16(r[4]))
	s.temp = -45 + 175*rawT/65535
	s.hum = 100 * rawH / 65535
	s.last.SetNow()
	return s.temp, s.hum, nil
}

func (s *SHT3x) shared() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.IsZero() && atomic_clock.Since(s.last) < sht3xShare {
		return s.temp, s.hum, nil
	}
	return s.measure()
}

func (s *SHT3x) Temperature() Reader {
	return ReaderFunc(func() (float64, error) {
		t, _, err := s.shared()
		return t, err
	})
}

func (s *SHT3x) Humidity() Reader {
	return ReaderFunc(func() (float64, error) {
		_, h, err := s.shared()
		return h, err
	})
}

func (s *SHT3x) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}
