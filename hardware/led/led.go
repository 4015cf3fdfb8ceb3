// Package led drives status LED on GPIO character device, lit while broker session is active.
package led

import (
	"sync"

	"github.com/aquanode/aquanode/helpers"
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

type Config struct {
	Enable    bool   `hcl:"enable"`
	Chip      string `hcl:"chip"`
	Line      int    `hcl:"line"`
	ActiveLow bool   `hcl:"active_low"`
}

type LED struct {
	mu    sync.Mutex
	chip  gpio.Chiper
	lines gpio.Lineser
	set   gpio.LineSetFunc
	on    bool
}

func Open(c *Config) (*LED, error) {
	if c.Chip == "" || c.Line < 0 {
		return nil, errors.NotValidf("led chip=%q line=%d", c.Chip, c.Line)
	}
	chip, err := gpio.Open(c.Chip, "aquanode-led")
	if err != nil {
		return nil, errors.Annotatef(err, "led open chip=%s", c.Chip)
	}
	l, err := newLED(chip, c)
	if err != nil {
		_ = chip.Close()
		return nil, err
	}
	return l, nil
}

func newLED(chip gpio.Chiper, c *Config) (*LED, error) {
	flag := gpio.GPIOHANDLE_REQUEST_OUTPUT
	if c.ActiveLow {
		flag |= gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW
	}
	lines, err := chip.OpenLines(flag, "aquanode-led", uint32(c.Line))
	if err != nil {
		return nil, errors.Annotatef(err, "led line=%d", c.Line)
	}
	l := &LED{chip: chip, lines: lines, set: lines.SetFunc(uint32(c.Line))}
	return l, l.write(false)
}

// Set is no-op on nil *LED, so callers need no "led enabled" checks.
func (l *LED) Set(on bool) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if on == l.on {
		return nil
	}
	return l.write(on)
}

func (l *LED) write(on bool) error {
	var v byte
	if on {
		v = 1
	}
	l.set(v)
	if err := l.lines.Flush(); err != nil {
		return errors.Annotate(err, "led flush")
	}
	l.on = on
	return nil
}

func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	_ = l.Set(false)
	return helpers.CloseAll(l.lines, l.chip)
}
