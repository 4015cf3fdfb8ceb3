// Package node runs the telemetry loop: ensure session, build, encode, publish, service, sleep.
package node

import (
	"context"
	"time"

	"github.com/aquanode/aquanode/frame"
	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/metrics"
	"github.com/aquanode/aquanode/payload"
	"github.com/aquanode/aquanode/tele"
	"github.com/juju/errors"
)

const DefaultInterval = 1500 * time.Millisecond

type Options struct {
	Builder        *frame.Builder
	Encoder        *payload.Encoder
	Manager        *tele.Manager
	Channel        *tele.Channel
	TopicPublish   string
	TopicSubscribe string
	Interval       time.Duration
	Log            *log2.Log
	Metrics        *metrics.Metrics
	// called once per cycle, systemd watchdog ping
	Watchdog func()
}

type Node struct {
	opt Options
	log *log2.Log
}

func New(opt Options) (*Node, error) {
	if opt.Builder == nil || opt.Encoder == nil || opt.Manager == nil || opt.Channel == nil {
		return nil, errors.NotValidf("code error node.Options builder=%v encoder=%v manager=%v channel=%v",
			opt.Builder != nil, opt.Encoder != nil, opt.Manager != nil, opt.Channel != nil)
	}
	if opt.TopicPublish == "" {
		return nil, errors.NotValidf("node publish topic empty")
	}
	if opt.Interval == 0 {
		opt.Interval = DefaultInterval
	}
	if err := opt.Encoder.CheckSchema(opt.Builder.Schema()); err != nil {
		return nil, errors.Annotate(err, "node payload schema")
	}
	if opt.TopicSubscribe != "" {
		// offline subscribe is remembered and issued with every new session
		if err := opt.Channel.Subscribe(opt.TopicSubscribe); err != nil {
			return nil, errors.Annotate(err, "node subscribe")
		}
	}
	return &Node{opt: opt, log: opt.Log}, nil
}

func (n *Node) Manager() *tele.Manager { return n.opt.Manager }

// SetWatchdog must be called before Run.
func (n *Node) SetWatchdog(f func()) { n.opt.Watchdog = f }

// Cycle is one loop iteration without the cadence sleep.
// Returned error is informational, next cycle recovers.
func (n *Node) Cycle(ctx context.Context) error {
	begin := time.Now()
	n.opt.Metrics.CycleStart()
	defer func() { n.opt.Metrics.CycleDone(time.Since(begin)) }()

	// connection dropped since last cycle is restored before this publish
	if !n.opt.Manager.CheckSession() {
		if err := n.opt.Manager.EstablishLink(ctx); err != nil {
			return errors.Annotate(err, "cycle")
		}
		if _, err := n.opt.Manager.EstablishSession(ctx); err != nil {
			return errors.Annotate(err, "cycle")
		}
	}

	record := n.opt.Builder.Build()
	n.opt.Metrics.Record(record)
	b, encodeErr := n.opt.Encoder.Encode(record)
	if encodeErr != nil {
		// schema was checked at startup, reaching here is a bug
		n.log.Errorf("CRITICAL payload skipped record=%s err=%v", record.String(), encodeErr)
		n.opt.Metrics.EncodeFailed()
	} else {
		n.log.Infof("publish topic=%s payload=%s", n.opt.TopicPublish, b)
		if err := n.opt.Channel.Publish(n.opt.TopicPublish, b); err != nil {
			n.opt.Manager.Lost(err)
			return errors.Annotate(err, "cycle")
		}
	}

	if err := n.opt.Channel.Service(ctx); err != nil {
		n.opt.Manager.Lost(err)
		return errors.Annotate(err, "cycle")
	}
	if encodeErr != nil {
		return errors.Annotate(encodeErr, "cycle")
	}
	return nil
}

// Run repeats Cycle with fixed sleep between cycles until ctx is done.
// Session stays open, owner of Manager closes it.
func (n *Node) Run(ctx context.Context) error {
	n.log.Infof("node loop interval=%v topic=%s", n.opt.Interval, n.opt.TopicPublish)
	for {
		if err := n.Cycle(ctx); err != nil && ctx.Err() == nil {
			n.log.Errorf("%v", err)
		}
		if n.opt.Watchdog != nil {
			n.opt.Watchdog()
		}
		if err := helpers.SleepContext(ctx, n.opt.Interval); err != nil {
			break
		}
	}
	n.log.Infof("node loop stop")
	return nil
}
