// Package clock provides wall time for telemetry timestamps in a fixed zone,
// optionally corrected by NTP offset.
package clock

import (
	"fmt"
	"time"

	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
)

type Clock interface {
	Now() time.Time
}

type Config struct {
	ZoneOffsetSec int    `hcl:"zone_offset_sec"`
	NtpServer     string `hcl:"ntp_server"` // empty disables NTP
	NtpUpdateSec  int    `hcl:"ntp_update_sec"`
	NtpTimeoutMs  int    `hcl:"ntp_timeout_ms"`
}

func (c *Config) Validate() error {
	const day = 24 * 3600
	if c.ZoneOffsetSec <= -day || c.ZoneOffsetSec >= day {
		return errors.NotValidf("clock.zone_offset_sec=%d", c.ZoneOffsetSec)
	}
	if c.NtpUpdateSec < 0 || c.NtpTimeoutMs < 0 {
		return errors.NotValidf("clock ntp_update_sec=%d ntp_timeout_ms=%d", c.NtpUpdateSec, c.NtpTimeoutMs)
	}
	return nil
}

func Zone(offset time.Duration) *time.Location {
	sec := int(offset / time.Second)
	if sec == 0 {
		return time.UTC
	}
	sign, abs := '+', sec
	if sec < 0 {
		sign, abs = '-', -sec
	}
	return time.FixedZone(fmt.Sprintf("UTC%c%02d:%02d", sign, abs/3600, abs%3600/60), sec)
}

func NewFromConfig(c *Config, log *log2.Log) (Clock, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	zone := Zone(time.Duration(c.ZoneOffsetSec) * time.Second)
	if c.NtpServer == "" {
		return NewSystem(zone), nil
	}
	n := NewNTP(c.NtpServer, zone, log)
	if c.NtpUpdateSec > 0 {
		n.Update = time.Duration(c.NtpUpdateSec) * time.Second
	}
	if c.NtpTimeoutMs > 0 {
		n.Timeout = time.Duration(c.NtpTimeoutMs) * time.Millisecond
	}
	return n, nil
}

// System is host clock presented in fixed zone.
type System struct {
	zone *time.Location
}

func NewSystem(zone *time.Location) *System {
	if zone == nil {
		zone = time.UTC
	}
	return &System{zone: zone}
}

func (s *System) Now() time.Time { return time.Now().In(s.zone) }

// Fixed always returns T, used by tests and `sample` command.
type Fixed struct{ T time.Time }

func (f Fixed) Now() time.Time { return f.T }
