package node

import (
	"io"
	"time"

	"github.com/aquanode/aquanode/clock"
	"github.com/aquanode/aquanode/config"
	"github.com/aquanode/aquanode/frame"
	"github.com/aquanode/aquanode/hardware/led"
	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/metrics"
	"github.com/aquanode/aquanode/payload"
	"github.com/aquanode/aquanode/sensor"
	"github.com/aquanode/aquanode/tele"
	tele_config "github.com/aquanode/aquanode/tele/config"
	"github.com/aquanode/aquanode/tele/link"
	"github.com/aquanode/aquanode/tele/mqtt"
	"github.com/aquanode/aquanode/tele/paho"
	"github.com/juju/errors"
)

const (
	DefaultNetworkTimeout = 10 * time.Second
	DefaultKeepaliveSec   = 60
)

// System is node wired from config with every resource it opened.
type System struct {
	Config  *config.Config
	Log     *log2.Log
	Clock   clock.Clock
	Bank    *sensor.Bank
	Builder *frame.Builder
	Encoder *payload.Encoder
	Stat    *tele.Stat
	Metrics *metrics.Metrics
	LED     *led.LED
	Node    *Node

	closers []io.Closer
}

// Overrides replace config driven parts, tests use them to avoid network and hardware.
type Overrides struct {
	Session tele.Session
	Link    link.Prober
	Clock   clock.Clock
}

func Open(c *config.Config, log *log2.Log, ov *Overrides) (*System, error) {
	if ov == nil {
		ov = &Overrides{}
	}
	s := &System{Config: c, Log: log, Stat: new(tele.Stat)}
	if err := s.open(ov); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSampler opens only sensors, clock and encoder, enough for one-shot sampling.
func OpenSampler(c *config.Config, log *log2.Log, ov *Overrides) (*System, error) {
	if ov == nil {
		ov = &Overrides{}
	}
	s := &System{Config: c, Log: log}
	if err := s.openFrame(ov); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) openFrame(ov *Overrides) error {
	c := s.Config
	var err error
	if s.Clock = ov.Clock; s.Clock == nil {
		if s.Clock, err = clock.NewFromConfig(&c.Clock, s.Log); err != nil {
			return errors.Annotate(err, "clock")
		}
	}

	schema := frame.DefaultSchema
	names := make([]string, 0, schema.Len())
	for _, f := range schema.Fields() {
		names = append(names, f.Sensor)
	}
	if s.Bank, err = sensor.Open(c.Sensors.List, c.Bus(), c.Sensors.Simulate, s.Log); err != nil {
		return errors.Annotate(err, "sensors")
	}
	s.closers = append(s.closers, s.Bank)
	if err = s.Bank.Require(names...); err != nil {
		return err
	}
	readers := make(map[frame.FieldID]sensor.Reader, schema.Len())
	for _, f := range schema.Fields() {
		readers[f.ID] = s.Bank.Readers[f.Sensor]
	}
	if s.Builder, err = frame.NewBuilder(schema, s.Clock, readers, s.Log); err != nil {
		return err
	}
	s.Encoder = payload.NewEncoder(c.Telemetry.PayloadBudget)
	return s.Encoder.CheckSchema(schema)
}

func (s *System) open(ov *Overrides) error {
	c := s.Config
	if err := s.openFrame(ov); err != nil {
		return err
	}

	prober := ov.Link
	if prober == nil {
		var err error
		if prober, err = link.NewFromConfig(&c.Network); err != nil {
			return err
		}
	}
	session := ov.Session
	if session == nil {
		var err error
		if session, err = NewSession(c, s.Log); err != nil {
			return err
		}
	}
	creds, err := tele.LoadCredentials(&c.Tele)
	if err != nil {
		return err
	}

	s.Metrics = metrics.New(s.Stat)
	if c.Hardware.LED.Enable {
		if s.LED, err = led.Open(&c.Hardware.LED); err != nil {
			return err
		}
		s.closers = append(s.closers, s.LED)
	}

	teleLog := s.Log.Clone(log2.LInfo)
	if c.Tele.LogDebug {
		teleLog.SetLevel(log2.LDebug)
	}
	channel := tele.NewChannel(session, nil, teleLog, s.Stat)
	manager, err := tele.NewManager(tele.ManagerOptions{
		Link:         prober,
		Channel:      channel,
		Credentials:  creds,
		Log:          teleLog,
		LinkRetry:    helpers.FixedRetry(c.LinkPoll(), c.Network.MaxAttempts),
		SessionRetry: helpers.FixedRetry(c.ConnectRetry(), c.Tele.ConnectMaxAttempts),
		OnState:      s.onState,
	})
	if err != nil {
		return err
	}
	s.Node, err = New(Options{
		Builder:        s.Builder,
		Encoder:        s.Encoder,
		Manager:        manager,
		Channel:        channel,
		TopicPublish:   c.Telemetry.TopicPublish,
		TopicSubscribe: c.Telemetry.TopicSubscribe,
		Interval:       c.Interval(),
		Log:            s.Log,
		Metrics:        s.Metrics,
	})
	return err
}

func (s *System) onState(state tele.State) {
	s.Metrics.SetState(state)
	if err := s.LED.Set(state == tele.SessionActive); err != nil {
		s.Log.Errorf("led err=%v", err)
	}
}

// Close owns session shutdown, Node.Run leaves session open.
func (s *System) Close() error {
	var err error
	if s.Node != nil {
		err = s.Node.Manager().Close()
	}
	return helpers.FoldErrors([]error{err, helpers.CloseAll(s.closers...)})
}

// NewSession picks transport by tele.backend, dry run never touches network.
func NewSession(c *config.Config, log *log2.Log) (tele.Session, error) {
	if c.Node.DryRun {
		return &tele.Noop{Log: log}, nil
	}
	mlog := log.Clone(log2.LInfo)
	if c.Tele.MqttLogDebug {
		mlog.SetLevel(log2.LDebug)
	}
	timeout := helpers.IntSecondDefault(c.Tele.NetworkTimeoutSec, DefaultNetworkTimeout)
	keepalive := c.Tele.KeepaliveSec
	if keepalive == 0 {
		keepalive = DefaultKeepaliveSec
	}
	switch c.Tele.Backend {
	case tele_config.BackendGomqtt:
		return mqtt.New(mqtt.Options{
			Broker:         c.Tele.Broker,
			QoS:            c.Tele.QoS,
			KeepaliveSec:   uint16(keepalive),
			NetworkTimeout: timeout,
			InboxSize:      c.Tele.InboxSize,
			Log:            mlog,
		})
	case "", tele_config.BackendPaho:
		return paho.New(paho.Options{
			Broker:         c.Tele.Broker,
			QoS:            c.Tele.QoS,
			KeepaliveSec:   keepalive,
			NetworkTimeout: timeout,
			InboxSize:      c.Tele.InboxSize,
			Log:            mlog,
			LogDebug:       c.Tele.MqttLogDebug,
		})
	}
	return nil, errors.NotValidf("tele.backend=%q", c.Tele.Backend)
}
