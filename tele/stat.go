package tele

import (
	"sync"
	"time"
)

// Stat is connectivity counters, read by metrics and console.
type Stat struct { //nolint:maligned
	sync.Mutex
	Connects       uint32
	ConnectFails   uint32
	LinkFails      uint32
	Lost           uint32
	Published      uint32
	PublishFails   uint32
	PublishedBytes uint64
	Received       uint32
	LastPublish    time.Time
	LastError      string
}

func (self *Stat) Modify(f func(*Stat)) {
	self.Lock()
	f(self)
	self.Unlock()
}

// Copy returns consistent snapshot without the lock.
func (self *Stat) Copy() Stat {
	self.Lock()
	defer self.Unlock()
	return Stat{
		Connects:       self.Connects,
		ConnectFails:   self.ConnectFails,
		LinkFails:      self.LinkFails,
		Lost:           self.Lost,
		Published:      self.Published,
		PublishFails:   self.PublishFails,
		PublishedBytes: self.PublishedBytes,
		Received:       self.Received,
		LastPublish:    self.LastPublish,
		LastError:      self.LastError,
	}
}
