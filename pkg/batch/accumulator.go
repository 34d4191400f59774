package batch

import (
	"time"

	"github.com/google/uuid"

	"wikistream/pkg/models"
)

const DefaultCapacity = 100

// Batch is an internal carrier for one flush
type Batch struct {
	ID       string
	OpenedAt time.Time
	ClosedAt time.Time
	Records  []models.Record
}

func (b Batch) Len() int {
	return len(b.Records)
}

// Accumulator collects records until capacity is reached. It is owned by a
// single goroutine and is not safe for concurrent use.
type Accumulator struct {
	capacity int
	records  []models.Record
	openedAt time.Time
}

func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Accumulator{capacity: capacity}
}

// Append adds a record and reports whether the batch is full. The caller is
// expected to Drain when it returns true.
func (a *Accumulator) Append(rec models.Record) bool {
	if len(a.records) == 0 {
		a.openedAt = time.Now().UTC()
		a.records = make([]models.Record, 0, a.capacity)
	}
	a.records = append(a.records, rec)
	return len(a.records) >= a.capacity
}

// Drain hands over every held record and resets the accumulator
func (a *Accumulator) Drain() Batch {
	b := Batch{
		ID:       uuid.New().String(),
		OpenedAt: a.openedAt,
		ClosedAt: time.Now().UTC(),
		Records:  a.records,
	}
	a.records = nil
	a.openedAt = time.Time{}
	return b
}

func (a *Accumulator) Len() int {
	return len(a.records)
}

func (a *Accumulator) Cap() int {
	return a.capacity
}
