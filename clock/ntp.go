package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquanode/aquanode/helpers/atomic_clock"
	"github.com/aquanode/aquanode/log2"
	"github.com/beevik/ntp"
	"github.com/juju/errors"
)

const (
	DefaultNtpUpdate  = 60 * time.Second
	DefaultNtpTimeout = 5 * time.Second
)

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTP adds last known server offset to host clock.
// Offset is refreshed lazily from Now() when older than Update.
// Failed refresh keeps previous offset, so timestamps never stall.
type NTP struct {
	Server  string
	Update  time.Duration
	Timeout time.Duration

	log    *log2.Log
	zone   *time.Location
	query  queryFunc
	offset int64 // atomic time.Duration
	synced *atomic_clock.Clock
	tried  *atomic_clock.Clock
	mu     sync.Mutex
}

func NewNTP(server string, zone *time.Location, log *log2.Log) *NTP {
	if zone == nil {
		zone = time.UTC
	}
	return &NTP{
		Server:  server,
		Update:  DefaultNtpUpdate,
		Timeout: DefaultNtpTimeout,
		log:     log,
		zone:    zone,
		query:   ntp.QueryWithOptions,
		synced:  atomic_clock.New(0),
		tried:   atomic_clock.New(0),
	}
}

func (n *NTP) Offset() time.Duration { return time.Duration(atomic.LoadInt64(&n.offset)) }
func (n *NTP) Synced() bool          { return !n.synced.IsZero() }

// Sync queries server once and stores clock offset.
func (n *NTP) Sync() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tried.SetNow()
	resp, err := n.query(n.Server, ntp.QueryOptions{Timeout: n.Timeout})
	if err == nil {
		err = resp.Validate()
	}
	if err != nil {
		return errors.Annotatef(err, "ntp server=%s", n.Server)
	}
	atomic.StoreInt64(&n.offset, int64(resp.ClockOffset))
	n.synced.SetNow()
	n.log.Debugf("ntp server=%s offset=%v rtt=%v", n.Server, resp.ClockOffset, resp.RTT)
	return nil
}

func (n *NTP) Now() time.Time {
	if n.tried.IsZero() || atomic_clock.Since(n.tried) >= n.Update {
		if err := n.Sync(); err != nil {
			n.log.Error(err)
		}
	}
	return time.Now().Add(n.Offset()).In(n.zone)
}
