package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/256dpi/gomqtt/packet"
)

const logPayloadMax = 64

// packetString keeps log lines short, telemetry payloads are printed as quoted prefix.
func packetString(p packet.Generic) string {
	if p == nil {
		return "(nil)"
	}
	if pub, ok := p.(*packet.Publish); ok {
		m := &pub.Message
		payload := m.Payload
		if len(payload) > logPayloadMax {
			payload = payload[:logPayloadMax]
		}
		return fmt.Sprintf("<Publish ID=%d Topic=%q QOS=%d bytes=%d Payload=%q>", pub.ID, m.Topic, m.QOS, len(m.Payload), payload)
	}
	return p.String()
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func isClosedConn(e error) bool {
	return e != nil && strings.HasSuffix(e.Error(), "use of closed network connection")
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}

// brokerURL maps config schemes onto gomqtt dialer schemes.
func brokerURL(s string) string {
	if strings.HasPrefix(s, "ssl://") {
		return "tls://" + strings.TrimPrefix(s, "ssl://")
	}
	return s
}
