package sensor

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
)

const (
	DriverW1      = "w1"
	DriverIIO     = "iio"
	DriverMCP3208 = "mcp3208"
	DriverSHT3x   = "sht3x"
	DriverSim     = "sim"
	DriverFixed   = "fixed"
)

// Config is one `sensor "name" { ... }` block.
type Config struct {
	Name     string  `hcl:"name,key"`
	Driver   string  `hcl:"driver"`
	Device   string  `hcl:"device"`   // w1
	Path     string  `hcl:"path"`     // iio
	Scale    float64 `hcl:"scale"`    // iio
	Offset   float64 `hcl:"offset"`   // iio
	Channel  int     `hcl:"channel"`  // mcp3208
	Address  int     `hcl:"address"`  // sht3x
	Quantity string  `hcl:"quantity"` // sht3x: temperature, humidity
	Value    float64 `hcl:"value"`    // sim, fixed
	Jitter   float64 `hcl:"jitter"`   // sim
	CacheMs  int     `hcl:"cache_ms"`
}

type BusConfig struct {
	W1Root string    `hcl:"w1_root"`
	SPI    SPIConfig `hcl:"spi"`
	I2C    I2CConfig `hcl:"i2c"`
}

func (c *Config) Validate() error {
	switch c.Driver {
	case DriverW1:
		if c.Device == "" {
			return errors.NotValidf("sensor=%s w1 device empty", c.Name)
		}
	case DriverIIO:
		if c.Path == "" {
			return errors.NotValidf("sensor=%s iio path empty", c.Name)
		}
	case DriverMCP3208:
		if c.Channel < 0 || c.Channel >= MCP3208Channels {
			return errors.NotValidf("sensor=%s mcp3208 channel=%d", c.Name, c.Channel)
		}
	case DriverSHT3x:
		if c.Quantity != "temperature" && c.Quantity != "humidity" {
			return errors.NotValidf("sensor=%s sht3x quantity=%q", c.Name, c.Quantity)
		}
		if c.Address < 0 || c.Address > 0x7f {
			return errors.NotValidf("sensor=%s sht3x address=%#x", c.Name, c.Address)
		}
	case DriverSim, DriverFixed:
	default:
		return errors.NotValidf("sensor=%s driver=%q", c.Name, c.Driver)
	}
	if c.CacheMs < 0 {
		return errors.NotValidf("sensor=%s cache_ms=%d", c.Name, c.CacheMs)
	}
	return nil
}

// Bank owns opened buses and named readers built from config.
type Bank struct {
	Readers Set
	Sims    map[string]*Sim

	adc     *MCP3208
	sht     map[uint16]*SHT3x
	closers []io.Closer

	openADC func(*SPIConfig) (*MCP3208, error)
	openSHT func(*I2CConfig, uint16) (*SHT3x, error)
}

func newBank() *Bank {
	return &Bank{
		Readers: make(Set),
		Sims:    make(map[string]*Sim),
		sht:     make(map[uint16]*SHT3x),
		openADC: OpenMCP3208,
		openSHT: OpenSHT3x,
	}
}

// Open builds readers, buses are opened once and shared. simulate=true replaces every driver with Sim.
func Open(list []Config, bus *BusConfig, simulate bool, log *log2.Log) (*Bank, error) {
	return newBank().open(list, bus, simulate, log)
}

func (b *Bank) open(list []Config, bus *BusConfig, simulate bool, log *log2.Log) (*Bank, error) {
	for i := range list {
		c := &list[i]
		if err := c.Validate(); err != nil {
			_ = b.Close()
			return nil, err
		}
		if _, dup := b.Readers[c.Name]; dup {
			_ = b.Close()
			return nil, errors.NotValidf("sensor duplicate name=%s", c.Name)
		}
		driver := c.Driver
		if simulate && driver != DriverFixed {
			driver = DriverSim
		}
		r, err := b.reader(c, driver, bus)
		if err != nil {
			_ = b.Close()
			return nil, errors.Annotatef(err, "sensor=%s driver=%s", c.Name, driver)
		}
		if c.CacheMs > 0 {
			r = NewCached(r, time.Duration(c.CacheMs)*time.Millisecond)
		}
		b.Readers[c.Name] = r
		log.Debugf("sensor=%s driver=%s", c.Name, driver)
	}
	return b, nil
}

func (b *Bank) reader(c *Config, driver string, bus *BusConfig) (Reader, error) {
	switch driver {
	case DriverW1:
		return NewW1(bus.W1Root, c.Device), nil
	case DriverIIO:
		return &IIO{Path: c.Path, Scale: c.Scale, Offset: c.Offset}, nil
	case DriverMCP3208:
		if b.adc == nil {
			adc, err := b.openADC(&bus.SPI)
			if err != nil {
				return nil, err
			}
			b.adc = adc
			b.closers = append(b.closers, adc)
		}
		return b.adc.Channel(c.Channel), nil
	case DriverSHT3x:
		addr := uint16(c.Address)
		s, ok := b.sht[addr]
		if !ok {
			var err error
			if s, err = b.openSHT(&bus.I2C, addr); err != nil {
				return nil, err
			}
			b.sht[addr] = s
			b.closers = append(b.closers, s)
		}
		if c.Quantity == "humidity" {
			return s.Humidity(), nil
		}
		return s.Temperature(), nil
	case DriverSim:
		s := NewSim(c.Value, c.Jitter)
		b.Sims[c.Name] = s
		return s, nil
	case DriverFixed:
		return Fixed(c.Value), nil
	}
	panic(fmt.Sprintf("code error sensor driver=%s", driver))
}

// Require checks every name has a reader.
func (b *Bank) Require(names ...string) error {
	missing := make([]string, 0)
	for _, n := range names {
		if _, ok := b.Readers[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) != 0 {
		sort.Strings(missing)
		return errors.NotFoundf("sensor config for %v", missing)
	}
	return nil
}

func (b *Bank) Close() error {
	return helpers.CloseAll(b.closers...)
}
