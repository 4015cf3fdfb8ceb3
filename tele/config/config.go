// Separate package is workaround to import cycles.
package tele_config

import (
	"net/url"

	"github.com/juju/errors"
)

const (
	BackendPaho   = "paho"
	BackendGomqtt = "gomqtt"
)

type Config struct { //nolint:maligned
	Backend      string `hcl:"backend"`
	Broker       string `hcl:"broker"` // ssl://host:8883 tcp://host:1883
	ClientID     string `hcl:"client_id"`
	Username     string `hcl:"username"`
	Password     string `hcl:"password"` // secret
	TlsCaFile    string `hcl:"tls_ca_file"`
	TlsCertFile  string `hcl:"tls_cert_file"`
	TlsKeyFile   string `hcl:"tls_key_file"` // secret
	KeepaliveSec int    `hcl:"keepalive_sec"`
	QoS          int    `hcl:"qos"`
	LogDebug     bool   `hcl:"log_debug"`
	MqttLogDebug bool   `hcl:"mqtt_log_debug"`

	NetworkTimeoutSec  int `hcl:"network_timeout_sec"`
	ConnectRetryMs     int `hcl:"connect_retry_ms"`
	ConnectMaxAttempts int `hcl:"connect_max_attempts"`
	InboxSize          int `hcl:"inbox_size"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendPaho, BackendGomqtt:
	default:
		return errors.NotValidf("tele.backend=%q", c.Backend)
	}
	u, err := url.Parse(c.Broker)
	if err != nil || u.Host == "" {
		return errors.NotValidf("tele.broker=%q", c.Broker)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts":
	default:
		return errors.NotValidf("tele.broker scheme=%q", u.Scheme)
	}
	if c.ClientID == "" {
		return errors.NotValidf("tele.client_id empty")
	}
	if (c.TlsCertFile == "") != (c.TlsKeyFile == "") {
		return errors.NotValidf("tele tls_cert_file and tls_key_file must be set together")
	}
	if c.QoS < 0 || c.QoS > 1 {
		return errors.NotValidf("tele.qos=%d supported 0,1", c.QoS)
	}
	if c.KeepaliveSec < 0 || c.NetworkTimeoutSec < 0 || c.ConnectRetryMs < 0 || c.ConnectMaxAttempts < 0 || c.InboxSize < 0 {
		return errors.NotValidf("tele negative duration or count")
	}
	return nil
}
