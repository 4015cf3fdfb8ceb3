package tele

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	tele_config "github.com/aquanode/aquanode/tele/config"
	"github.com/juju/errors"
)

// Credentials are opaque to connectivity logic, only sessions look inside.
type Credentials struct {
	ClientID   string
	Username   string
	Password   string // secret
	RootCA     []byte // PEM
	ClientCert []byte // PEM
	ClientKey  []byte // PEM, secret
}

func LoadCredentials(c *tele_config.Config) (*Credentials, error) {
	creds := &Credentials{
		ClientID: c.ClientID,
		Username: c.Username,
		Password: c.Password,
	}
	var err error
	read := func(path string, dst *[]byte) {
		if path == "" || err != nil {
			return
		}
		if *dst, err = ioutil.ReadFile(path); err != nil {
			err = errors.Annotatef(err, "tele credentials")
		}
	}
	read(c.TlsCaFile, &creds.RootCA)
	read(c.TlsCertFile, &creds.ClientCert)
	read(c.TlsKeyFile, &creds.ClientKey)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// TLSConfig returns nil without any TLS material, then broker URL scheme decides.
func (c *Credentials) TLSConfig() (*tls.Config, error) {
	if c == nil || (len(c.RootCA) == 0 && len(c.ClientCert) == 0) {
		return nil, nil
	}
	conf := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(c.RootCA) != 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.RootCA) {
			return nil, errors.NotValidf("tele root CA PEM")
		}
		conf.RootCAs = pool
	}
	if len(c.ClientCert) != 0 {
		cert, err := tls.X509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, errors.Annotate(err, "tele client certificate")
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}
