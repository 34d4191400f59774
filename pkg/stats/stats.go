package stats

import (
	"sync"
	"wikistream/pkg/models"
)

type Recorder interface {
	Record(rec models.Record)
	Snapshot() Stats
}

type Stats struct {
	Edits        int    `json:"edits"`
	Users        int    `json:"users"`
	Bots         int    `json:"bots"`
	Servers      int    `json:"servers"`
	BytesAdded   int64  `json:"bytes_added"`
	BytesRemoved int64  `json:"bytes_removed"`
	LastEdit     string `json:"last_edit,omitempty"`
}

// InMemory tallies normalized edits. The runner writes while the status API
// reads, so access is serialized.
type InMemory struct {
	lock         sync.Mutex
	edits        int
	users        map[string]struct{}
	bots         map[string]struct{}
	servers      map[string]struct{}
	bytesAdded   int64
	bytesRemoved int64
	lastEdit     string
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]struct{}),
		bots:    make(map[string]struct{}),
		servers: make(map[string]struct{}),
	}
}

func (s *InMemory) Record(rec models.Record) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.edits += 1
	if rec.User != nil {
		if rec.IsBot {
			s.bots[*rec.User] = struct{}{}
		} else {
			s.users[*rec.User] = struct{}{}
		}
	}
	if rec.ServerName != nil {
		s.servers[*rec.ServerName] = struct{}{}
	}
	if rec.EditSizeBytes > 0 {
		s.bytesAdded += int64(rec.EditSizeBytes)
	} else {
		s.bytesRemoved += int64(-rec.EditSizeBytes)
	}
	// Fixed-width layout, so string order is time order
	if rec.Timestamp > s.lastEdit {
		s.lastEdit = rec.Timestamp
	}
}

func (s *InMemory) Snapshot() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Stats{
		Edits:        s.edits,
		Users:        len(s.users),
		Bots:         len(s.bots),
		Servers:      len(s.servers),
		BytesAdded:   s.bytesAdded,
		BytesRemoved: s.bytesRemoved,
		LastEdit:     s.lastEdit,
	}
}
