package console

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/aquanode/aquanode/clock"
	"github.com/aquanode/aquanode/config"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const benchConfig = `
tele { broker = "tcp://127.0.0.1:1883" client_id = "bench-1" }
sensors {
	sensor "water_temp" { driver = "fixed" value = 21.5 }
	sensor "zone_temp" { driver = "fixed" value = 24 }
	sensor "humidity" { driver = "fixed" value = 55.2 }
	sensor "ph" { driver = "fixed" value = 2048 }
	sensor "uv" { driver = "fixed" value = 300 }
	sensor "tds" { driver = "fixed" value = 150 }
	sensor "ldr" { driver = "sim" value = 0 }
}
`

const samplePayload = `{"Timestamp":"2024-01-01 00:00:00","Temperature H2O (°C)":21.50,"Temperature Zone (°C)":24.00,"Humidity (%)":55.20,"pH Level":7.00,"Ultraviolet Light":1.4648,"Electrical Conductivity":150,"Bright Level":0}`

func newSystem(t testing.TB) *node.System {
	log := log2.NewTest(t, log2.LDebug)
	c, err := config.Read(log, config.NewMockFullReader(map[string]string{"main": benchConfig}), "main")
	require.NoError(t, err)
	sys, err := node.OpenSampler(c, log, &node.Overrides{Clock: clock.Fixed{T: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	return sys
}

func TestExecutor(t *testing.T) {
	t.Parallel()

	type Case struct {
		name   string
		lines  string
		expect []string
	}
	cases := []Case{
		{"sample", "sample", []string{samplePayload + "\n"}},
		{"set-sample", "set ldr 3000\nsample", []string{`"Bright Level":3000}`}},
		{"set-fixed", "set ph 1", []string{"error: simulated sensor=ph not found"}},
		{"set-syntax", "set ldr", []string{"error: syntax: set NAME VALUE not valid"}},
		{"set-value", "set ldr warm", []string{`error: value="warm" not valid`}},
		{"sensors", "sensors", []string{"humidity=55.2\nldr=0\nph=2048\ntds=150\nuv=300\nwater_temp=21.5\nzone_temp=24\n"}},
		{"decode", samplePayload, []string{"Timestamp=2024-01-01 00:00:00 bytes=", "pH Level", "1.4648"}},
		{"decode-cmd", "decode " + samplePayload, []string{"Temperature H2O (°C)", "21.5"}},
		{"decode-invalid", `{"Timestamp":"2024-01-01 00:00:00"}`, []string{"error: "}},
		{"unknown", "flash", []string{"error: command=flash not found"}},
		{"help", "help", []string{"set NAME VALUE"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			sys := newSystem(t)
			defer sys.Close()
			var out bytes.Buffer
			exec := NewExecutor(sys, &out)
			for _, line := range strings.Split(c.lines, "\n") {
				exec(line)
			}
			for _, e := range c.expect {
				assert.Contains(t, out.String(), e)
			}
		})
	}
}

func TestSample(t *testing.T) {
	t.Parallel()
	sys := newSystem(t)
	defer sys.Close()
	var out bytes.Buffer
	require.NoError(t, sample(sys, &out))
	assert.Equal(t, samplePayload+"\n", out.String())
}
