package link

import (
	"context"
	"net"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterface(t *testing.T) {
	t.Parallel()

	ipnet := func(s string) net.Addr {
		ip, n, err := net.ParseCIDR(s)
		require.NoError(t, err)
		n.IP = ip
		return n
	}
	cases := []struct {
		name   string
		flags  net.Flags
		addrs  []net.Addr
		err    error
		expect bool
	}{
		{"down", 0, []net.Addr{ipnet("192.168.1.20/24")}, nil, false},
		{"up-no-addr", net.FlagUp, nil, nil, false},
		{"up-link-local", net.FlagUp, []net.Addr{ipnet("169.254.3.4/16"), ipnet("fe80::1/64")}, nil, false},
		{"up-dhcp", net.FlagUp, []net.Addr{ipnet("fe80::1/64"), ipnet("192.168.1.20/24")}, nil, true},
		{"missing", 0, nil, errors.NotFoundf("interface"), false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			p := &Interface{Name: "wlan0", lookup: func(name string) (*net.Interface, []net.Addr, error) {
				assert.Equal(t, "wlan0", name)
				if c.err != nil {
					return nil, nil, c.err
				}
				return &net.Interface{Name: name, Flags: c.flags}, c.addrs, nil
			}}
			up, err := p.Up(context.Background())
			if c.err != nil {
				assert.True(t, errors.IsNotFound(errors.Cause(err)), errors.ErrorStack(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, c.expect, up)
		})
	}
}

func TestDial(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	ctx := context.Background()
	p := &Dial{Addr: addr}
	up, err := p.Up(ctx)
	require.NoError(t, err)
	assert.True(t, up)

	ln.Close()
	up, err = p.Up(ctx)
	require.NoError(t, err)
	assert.False(t, up)
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		c      Config
		expect string
	}{
		{Config{Interface: "wlan0"}, "interface=wlan0"},
		{Config{Probe: "dial", DialAddr: "broker:8883"}, "dial=broker:8883"},
		{Config{Probe: "none"}, "none"},
		{Config{Probe: "interface"}, ""},
		{Config{Probe: "dial", DialAddr: "broker"}, ""},
		{Config{Probe: "carrier-pigeon"}, ""},
	}
	for _, c := range cases {
		p, err := NewFromConfig(&c.c)
		if c.expect == "" {
			assert.True(t, errors.IsNotValid(err), "config=%#v err=%v", c.c, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, c.expect, p.String())
	}
}
