// Package config reads node configuration from HCL files with includes.
package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/aquanode/aquanode/clock"
	"github.com/aquanode/aquanode/hardware/led"
	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/sensor"
	tele_config "github.com/aquanode/aquanode/tele/config"
	"github.com/aquanode/aquanode/tele/link"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

const (
	DefaultTopicPublish   = "esp32/pub"
	DefaultTopicSubscribe = "esp32/sub"
	DefaultInterval       = 1500 * time.Millisecond
	DefaultPayloadBudget  = 512
	DefaultLinkPoll       = 500 * time.Millisecond
	DefaultConnectRetry   = 100 * time.Millisecond
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include"`

	Node struct {
		Name     string `hcl:"name"`
		LogDebug bool   `hcl:"log_debug"`
		DryRun   bool   `hcl:"dry_run"`
	} `hcl:"node"`

	Network link.Config        `hcl:"network"`
	Tele    tele_config.Config `hcl:"tele"`

	Telemetry struct {
		TopicPublish   string `hcl:"topic_publish"`
		TopicSubscribe string `hcl:"topic_subscribe"`
		IntervalMs     int    `hcl:"interval_ms"`
		PayloadBudget  int    `hcl:"payload_budget"`
	} `hcl:"telemetry"`

	Clock clock.Config `hcl:"clock"`

	Sensors struct {
		Simulate bool            `hcl:"simulate"`
		List     []sensor.Config `hcl:"sensor"`
	} `hcl:"sensors"`

	Hardware struct {
		W1Root string           `hcl:"w1_root"`
		SPI    sensor.SPIConfig `hcl:"spi"`
		I2C    sensor.I2CConfig `hcl:"i2c"`
		LED    led.Config       `hcl:"led"`
	} `hcl:"hardware"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`

	_copy_guard sync.Mutex //nolint:unused
}

type Source struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) Interval() time.Duration {
	return helpers.IntMillisecondDefault(c.Telemetry.IntervalMs, DefaultInterval)
}

func (c *Config) LinkPoll() time.Duration {
	return helpers.IntMillisecondDefault(c.Network.PollMs, DefaultLinkPoll)
}

func (c *Config) ConnectRetry() time.Duration {
	return helpers.IntMillisecondDefault(c.Tele.ConnectRetryMs, DefaultConnectRetry)
}

func (c *Config) Bus() *sensor.BusConfig {
	return &sensor.BusConfig{W1Root: c.Hardware.W1Root, SPI: c.Hardware.SPI, I2C: c.Hardware.I2C}
}

// DefaultSensors is the reference board wiring:
// DS18B20 on one-wire, DHT22 through dht11 IIO driver, analog probes on MCP3208 channels 0-3.
func DefaultSensors() []sensor.Config {
	const dht = "/sys/bus/iio/devices/iio:device0/"
	return []sensor.Config{
		{Name: "water_temp", Driver: sensor.DriverW1, Device: "28-000000000000"},
		{Name: "zone_temp", Driver: sensor.DriverIIO, Path: dht + "in_temp_input", Scale: 0.001, CacheMs: 2000},
		{Name: "humidity", Driver: sensor.DriverIIO, Path: dht + "in_humidityrelative_input", Scale: 0.001, CacheMs: 2000},
		{Name: "ph", Driver: sensor.DriverMCP3208, Channel: 0},
		{Name: "uv", Driver: sensor.DriverMCP3208, Channel: 1},
		{Name: "tds", Driver: sensor.DriverMCP3208, Channel: 2},
		{Name: "ldr", Driver: sensor.DriverMCP3208, Channel: 3},
	}
}

func (c *Config) applyDefaults() {
	if c.Node.Name == "" {
		c.Node.Name = c.Tele.ClientID
	}
	if c.Telemetry.TopicPublish == "" {
		c.Telemetry.TopicPublish = DefaultTopicPublish
	}
	if c.Telemetry.TopicSubscribe == "" {
		c.Telemetry.TopicSubscribe = DefaultTopicSubscribe
	}
	if c.Telemetry.PayloadBudget == 0 {
		c.Telemetry.PayloadBudget = DefaultPayloadBudget
	}
	if c.Tele.Backend == "" {
		c.Tele.Backend = tele_config.BackendPaho
	}
	if c.Network.Probe == "" && c.Network.Interface == "" {
		c.Network.Probe = "none"
	}
	if len(c.Sensors.List) == 0 {
		c.Sensors.List = DefaultSensors()
	}
	if c.Hardware.SPI.Bus == "" {
		c.Hardware.SPI.Bus = "SPI0.0"
	}
	if c.Hardware.I2C.Bus == "" {
		c.Hardware.I2C.Bus = "1"
	}
}

func (c *Config) Validate() error {
	errs := []error{
		c.Network.Validate(),
		c.Tele.Validate(),
		c.Clock.Validate(),
	}
	if c.Telemetry.IntervalMs < 0 {
		errs = append(errs, errors.NotValidf("telemetry.interval_ms=%d", c.Telemetry.IntervalMs))
	}
	if c.Telemetry.PayloadBudget < 0 {
		errs = append(errs, errors.NotValidf("telemetry.payload_budget=%d", c.Telemetry.PayloadBudget))
	}
	for i := range c.Sensors.List {
		errs = append(errs, c.Sensors.List[i].Validate())
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	// no content in error, secrets files are included too
	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// Read merges named sources in order, later values override earlier ones.
// First name sets base directory for relative includes with OsFullReader.
func Read(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		panic("code error config.Read() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func MustRead(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := Read(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
