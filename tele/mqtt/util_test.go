package mqtt

import (
	"strings"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/stretchr/testify/assert"
)

func TestBrokerURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tls://a1b2c3-ats.iot.eu-west-1.amazonaws.com:8883", brokerURL("ssl://a1b2c3-ats.iot.eu-west-1.amazonaws.com:8883"))
	assert.Equal(t, "tcp://127.0.0.1:1883", brokerURL("tcp://127.0.0.1:1883"))
}

func TestKeepaliveAndHalf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 90*time.Second, keepaliveAndHalf(60))
	assert.Equal(t, time.Duration(0), keepaliveAndHalf(0))
}

func TestPacketString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "(nil)", packetString(nil))

	pub := packet.NewPublish()
	pub.ID = 7
	pub.Message = packet.Message{Topic: "esp32/pub", Payload: []byte(`{"Timestamp":"2024-01-01 00:00:00",` + strings.Repeat(" ", 100) + `}`), QOS: packet.QOSAtLeastOnce}
	s := packetString(pub)
	assert.True(t, strings.HasPrefix(s, `<Publish ID=7 Topic="esp32/pub" QOS=1 bytes=136 Payload="{\"Timestamp\":`), s)
	assert.NotContains(t, s, "}")

	assert.Contains(t, packetString(packet.NewPingreq()), "Pingreq")
}
