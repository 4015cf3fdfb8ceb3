package sensor

import (
	"sync"

	"github.com/aquanode/aquanode/helpers"
	"github.com/juju/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	MCP3208Channels = 8
	DefaultSpiSpeed = 1 * physic.MegaHertz
)

type SPIConfig struct {
	Bus   string `hcl:"bus"`
	Speed string `hcl:"speed"`
	Mode  int    `hcl:"mode"`
}

type SpiTxFunc func(send, recv []byte) error

// MCP3208 is 8 channel 12-bit SPI ADC, analog pH/UV/TDS/LDR probes connect here.
type MCP3208 struct {
	mu   sync.Mutex
	tx   SpiTxFunc
	port spi.PortCloser
	buf  [2][3]byte
}

func OpenMCP3208(c *SPIConfig) (*MCP3208, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	port, err := spireg.Open(c.Bus)
	if err != nil {
		return nil, errors.Annotatef(err, "SPI Open bus=%s", c.Bus)
	}
	speed := DefaultSpiSpeed
	if c.Speed != "" {
		if err = speed.Set(c.Speed); err != nil {
			_ = port.Close()
			return nil, errors.Annotate(err, "SPI speed parse")
		}
	}
	conn, err := port.Connect(speed, spi.Mode(c.Mode), 8)
	if err != nil {
		_ = port.Close()
		return nil, errors.Annotate(err, "SPI Connect")
	}
	m := newMCP3208(conn.Tx)
	m.port = port
	return m, nil
}

func newMCP3208(tx SpiTxFunc) *MCP3208 { return &MCP3208{tx: tx} }

// Sample returns single-ended raw value 0..4095.
func (m *MCP3208) Sample(ch int) (int, error) {
	if ch < 0 || ch >= MCP3208Channels {
		return 0, errors.NotValidf("mcp3208 channel=%d", ch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, r := m.buf[0][:], m.buf[1][:]
	// start bit, single-ended, channel D2 | D1 D0 | don't care
	w[0] = 0x06 | byte(ch>>2)
	w[1] = byte(ch&3) << 6
	w[2] = 0
	if err := m.tx(w, r); err != nil {
		return 0, errors.Annotatef(err, "mcp3208 channel=%d", ch)
	}
	return int(r[1]&0x0f)<<8 | int(r[2]), nil
}

func (m *MCP3208) Channel(ch int) Reader {
	return ReaderFunc(func() (float64, error) {
		v, err := m.Sample(ch)
		return float64(v), err
	})
}

func (m *MCP3208) Close() error {
	if m.port == nil {
		return nil
	}
	return helpers.CloseAll(m.port)
}
