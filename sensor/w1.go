package sensor

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
)

const DefaultW1Root = "/sys/bus/w1/devices"

// W1 reads DS18B20 temperature through w1_therm kernel driver.
// Missing device or failed CRC gives DisconnectedC like Arduino DallasTemperature.
type W1 struct {
	Path string
}

func NewW1(root, device string) *W1 {
	if root == "" {
		root = DefaultW1Root
	}
	return &W1{Path: filepath.Join(root, device, "w1_slave")}
}

func (w *W1) Read() (float64, error) {
	b, err := ioutil.ReadFile(w.Path)
	if os.IsNotExist(err) {
		return DisconnectedC, nil
	}
	if err != nil {
		return 0, errors.Annotatef(err, "w1 path=%s", w.Path)
	}
	return parseW1Slave(b)
}

// 72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
// 72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(b []byte) (float64, error) {
	lines := bytes.Split(bytes.TrimSpace(b), []byte{'\n'})
	if len(lines) != 2 {
		return 0, errors.NotValidf("w1_slave lines=%d content=%q", len(lines), b)
	}
	if !bytes.HasSuffix(bytes.TrimSpace(lines[0]), []byte("YES")) {
		return DisconnectedC, nil
	}
	i := bytes.LastIndex(lines[1], []byte("t="))
	if i < 0 {
		return 0, errors.NotValidf("w1_slave temperature content=%q", b)
	}
	milli, err := strconv.ParseInt(string(bytes.TrimSpace(lines[1][i+2:])), 10, 32)
	if err != nil {
		return 0, errors.Annotatef(err, "w1_slave parse content=%q", b)
	}
	return float64(milli) / 1000, nil
}
