// Package link reports whether the network layer under the broker session is usable.
package link

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
)

// Prober answers "is network link up" without side effects on success path.
type Prober interface {
	Up(ctx context.Context) (bool, error)
	String() string
}

type Config struct {
	// interface (default), dial, none
	Probe       string `hcl:"probe"`
	Interface   string `hcl:"interface"`
	DialAddr    string `hcl:"dial"`
	PollMs      int    `hcl:"poll_ms"`
	MaxAttempts int    `hcl:"max_attempts"`
	TimeoutMs   int    `hcl:"timeout_ms"`
}

func (c *Config) Validate() error {
	switch c.Probe {
	case "", "interface":
		if c.Interface == "" {
			return errors.NotValidf("network.interface empty")
		}
	case "dial":
		if _, _, err := net.SplitHostPort(c.DialAddr); err != nil {
			return errors.NotValidf("network.dial=%q", c.DialAddr)
		}
	case "none":
	default:
		return errors.NotValidf("network.probe=%q", c.Probe)
	}
	if c.PollMs < 0 || c.MaxAttempts < 0 || c.TimeoutMs < 0 {
		return errors.NotValidf("network poll_ms=%d max_attempts=%d timeout_ms=%d", c.PollMs, c.MaxAttempts, c.TimeoutMs)
	}
	return nil
}

func NewFromConfig(c *Config) (Prober, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Probe {
	case "dial":
		timeout := 3 * time.Second
		if c.TimeoutMs > 0 {
			timeout = time.Duration(c.TimeoutMs) * time.Millisecond
		}
		return &Dial{Addr: c.DialAddr, Timeout: timeout}, nil
	case "none":
		return Always{}, nil
	}
	return &Interface{Name: c.Interface}, nil
}

// Interface is up when named interface has FlagUp and one routable unicast address.
// Equivalent of WiFi associated and DHCP done.
type Interface struct {
	Name string
	// used by tests
	lookup func(name string) (*net.Interface, []net.Addr, error)
}

func (p *Interface) String() string { return "interface=" + p.Name }

func (p *Interface) Up(ctx context.Context) (bool, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = lookupInterface
	}
	iface, addrs, err := lookup(p.Name)
	if err != nil {
		return false, errors.Annotatef(err, "link %s", p)
	}
	if iface.Flags&net.FlagUp == 0 {
		return false, nil
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && routable(ipnet.IP) {
			return true, nil
		}
	}
	return false, nil
}

func lookupInterface(name string) (*net.Interface, []net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, nil, err
	}
	addrs, err := iface.Addrs()
	return iface, addrs, err
}

func routable(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast())
}

// Dial is up when TCP connect to Addr succeeds, connection is closed right away.
type Dial struct {
	Addr    string
	Timeout time.Duration
}

func (p *Dial) String() string { return "dial=" + p.Addr }

func (p *Dial) Up(ctx context.Context) (bool, error) {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

// Always is for hosts where link is managed elsewhere.
type Always struct{}

func (Always) String() string                   { return "none" }
func (Always) Up(context.Context) (bool, error) { return true, nil }

// Func adapts function, used by tests.
type Func func(ctx context.Context) (bool, error)

func (f Func) String() string                       { return "func" }
func (f Func) Up(ctx context.Context) (bool, error) { return f(ctx) }
