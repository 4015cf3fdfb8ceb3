package sensor

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aquanode/aquanode/crc"
	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t testing.TB, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
}

func TestW1(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		content   string
		expect    float64
		expectErr string
	}{
		{"ok", "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n", 23.125, ""},
		{"negative", "5e ff 4b 46 7f ff 02 10 d8 : crc=d8 YES\n5e ff 4b 46 7f ff 02 10 d8 t=-10125\n", -10.125, ""},
		{"crc-fail", "ff ff ff ff ff ff ff ff ff : crc=c9 NO\nff ff ff ff ff ff ff ff ff t=-62\n", DisconnectedC, ""},
		{"missing", "", DisconnectedC, ""},
		{"garbage", "hello\n", 0, "not valid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			root := t.TempDir()
			const dev = "28-00000a1b2c3d"
			if c.content != "" {
				writeFile(t, filepath.Join(root, dev, "w1_slave"), c.content)
			}
			v, err := NewW1(root, dev).Read()
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, v)
		})
	}
}

func TestIIO(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	temp := filepath.Join(dir, "in_temp_input")
	writeFile(t, temp, "24000\n")
	hum := filepath.Join(dir, "in_humidityrelative_input")
	writeFile(t, hum, "55200\n")
	raw := filepath.Join(dir, "in_voltage0_raw")
	writeFile(t, raw, "2048")

	v, err := (&IIO{Path: temp, Scale: 0.001}).Read()
	require.NoError(t, err)
	assert.InDelta(t, 24.0, v, 1e-9)
	v, err = (&IIO{Path: hum, Scale: 0.001}).Read()
	require.NoError(t, err)
	assert.InDelta(t, 55.2, v, 1e-9)
	v, err = (&IIO{Path: raw}).Read()
	require.NoError(t, err)
	assert.Equal(t, 2048.0, v)

	_, err = (&IIO{Path: filepath.Join(dir, "absent")}).Read()
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestMCP3208(t *testing.T) {
	t.Parallel()

	var sent []byte
	m := newMCP3208(func(w, r []byte) error {
		sent = append(sent[:0], w...)
		ch := int(w[0]&1)<<2 | int(w[1]>>6)
		v := 2048 + ch
		r[0], r[1], r[2] = 0xff, 0xe0|byte(v>>8), byte(v)
		return nil
	})
	for ch := 0; ch < MCP3208Channels; ch++ {
		v, err := m.Channel(ch).Read()
		require.NoError(t, err)
		assert.Equal(t, float64(2048+ch), v, "channel=%d", ch)
	}
	assert.Equal(t, []byte{0x07, 0xc0, 0x00}, sent)

	_, err := m.Sample(8)
	assert.True(t, errors.IsNotValid(err))

	m = newMCP3208(func(w, r []byte) error { return fmt.Errorf("spi busy") })
	_, err = m.Sample(1)
	assert.EqualError(t, errors.Cause(err), "spi busy")
	assert.NoError(t, m.Close())
}

func sht3xFrame(rawT, rawH uint16) []byte {
	t := []byte{byte(rawT >> 8), byte(rawT)}
	h := []byte{byte(rawH >> 8), byte(rawH)}
	return []byte{t[0], t[1], crc.Sensirion(t), h[0], h[1], crc.Sensirion(h)}
}

func TestSHT3x(t *testing.T) {
	t.Parallel()

	frame := sht3xFrame(0x6666, 0x8000)
	measures := 0
	s := newSHT3x(func(w, r []byte) error {
		if w != nil {
			assert.Equal(t, []byte{0x24, 0x00}, w)
			measures++
		}
		if r != nil {
			copy(r, frame)
		}
		return nil
	})
	s.sleep = func(time.Duration) {}

	temp, err := s.Temperature().Read()
	require.NoError(t, err)
	hum, err := s.Humidity().Read()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, temp, 0.01)
	assert.InDelta(t, 50.0, hum, 0.01)
	assert.Equal(t, 1, measures, "one measurement shared by both readers")

	frame[2] ^= 0xff
	_, _, err = s.Measure()
	assert.True(t, errors.IsNotValid(err), errors.ErrorStack(err))
}

func TestCached(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewCached(ReaderFunc(func() (float64, error) { calls++; return float64(calls), nil }), time.Hour)
	for i := 0; i < 3; i++ {
		v, err := c.Read()
		require.NoError(t, err)
		assert.Equal(t, 1.0, v)
	}
	assert.Equal(t, 1, calls)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	list := []Config{
		{Name: "water_temp", Driver: DriverW1, Device: "28-1"},
		{Name: "ph", Driver: DriverMCP3208, Channel: 0},
		{Name: "uv", Driver: DriverMCP3208, Channel: 1},
		{Name: "zone_temp", Driver: DriverSHT3x, Quantity: "temperature"},
		{Name: "humidity", Driver: DriverSHT3x, Quantity: "humidity"},
		{Name: "ldr", Driver: DriverFixed, Value: 1000},
	}

	t.Run("simulate", func(t *testing.T) {
		b, err := Open(list, &BusConfig{}, true, log)
		require.NoError(t, err)
		defer b.Close()
		assert.Len(t, b.Readers, len(list))
		assert.Len(t, b.Sims, len(list)-1)
		b.Sims["ph"].Set(2048)
		v, err := b.Readers["ph"].Read()
		require.NoError(t, err)
		assert.Equal(t, 2048.0, v)
		v, err = b.Readers["ldr"].Read()
		require.NoError(t, err)
		assert.Equal(t, 1000.0, v)
		assert.NoError(t, b.Require("ph", "ldr"))
		assert.True(t, errors.IsNotFound(b.Require("ph", "tds")))
	})

	t.Run("shared-bus", func(t *testing.T) {
		b := newBank()
		adcOpens, shtOpens := 0, 0
		b.openADC = func(*SPIConfig) (*MCP3208, error) {
			adcOpens++
			return newMCP3208(func(w, r []byte) error { r[1], r[2] = 0x01, 0x2c; return nil }), nil
		}
		b.openSHT = func(c *I2CConfig, addr uint16) (*SHT3x, error) {
			shtOpens++
			assert.Equal(t, uint16(0), addr)
			return newSHT3x(func(w, r []byte) error { return nil }), nil
		}
		_, err := b.open(list, &BusConfig{}, false, log)
		require.NoError(t, err)
		assert.Equal(t, 1, adcOpens)
		assert.Equal(t, 1, shtOpens)
		v, err := b.Readers["uv"].Read()
		require.NoError(t, err)
		assert.Equal(t, 300.0, v)
		assert.NoError(t, b.Close())
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Open([]Config{{Name: "ph", Driver: "analogRead"}}, &BusConfig{}, false, log)
		assert.True(t, errors.IsNotValid(err))
		_, err = Open([]Config{{Name: "ph", Driver: DriverSim}, {Name: "ph", Driver: DriverSim}}, &BusConfig{}, false, log)
		assert.True(t, errors.IsNotValid(err))
	})
}
