// Package normalizer turns recentchange stream messages into analytics records.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"wikistream/pkg/metrics"
	"wikistream/pkg/models"
)

const (
	messageEvent = "message"
	editType     = "edit"

	// TimestampLayout is ISO-8601 in UTC without a zone designator
	TimestampLayout = "2006-01-02T15:04:05"
)

// Reasons a message is discarded, used as the metrics label
const (
	DropEventType        = "event_type"
	DropMalformed        = "malformed"
	DropNotEdit          = "not_edit"
	DropMissingTimestamp = "missing_timestamp"
	DropInvalidTimestamp = "invalid_timestamp"
)

// Unix seconds of 0001-01-01T00:00:00 and 9999-12-31T23:59:59 UTC
const (
	MinTimestamp int64 = -62135596800
	MaxTimestamp int64 = 253402300799
)

var (
	ErrMissingTimestamp = errors.New("change has no timestamp")
	ErrInvalidTimestamp = errors.New("change timestamp out of range")
)

type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger.Named("normalizer")}
}

// Normalize returns the record for an edit message. Anything else is dropped
// and ok is false; malformed payloads are expected on the public feed and are
// only logged at debug level.
func (n *Normalizer) Normalize(msg models.RawMessage) (models.Record, bool) {
	if msg.Event != messageEvent {
		n.drop(DropEventType)
		return models.Record{}, false
	}
	var change models.Change
	if err := json.Unmarshal([]byte(msg.Data), &change); err != nil {
		n.logger.Debug("discarding malformed payload", zap.Error(err), zap.String("id", msg.ID))
		n.drop(DropMalformed)
		return models.Record{}, false
	}
	if change.Type != editType {
		n.drop(DropNotEdit)
		return models.Record{}, false
	}
	record, err := FromChange(change)
	if err != nil {
		n.logger.Debug("discarding edit", zap.Error(err), zap.String("id", msg.ID))
		if errors.Is(err, ErrMissingTimestamp) {
			n.drop(DropMissingTimestamp)
		} else {
			n.drop(DropInvalidTimestamp)
		}
		return models.Record{}, false
	}
	return record, true
}

func (n *Normalizer) drop(reason string) {
	metrics.MessagesDropped.WithLabelValues(reason).Inc()
}

// FromChange derives the analytics record from an edit. Missing lengths count
// as zero.
func FromChange(c models.Change) (models.Record, error) {
	if c.Timestamp == nil {
		return models.Record{}, ErrMissingTimestamp
	}
	ts, err := unixSeconds(*c.Timestamp)
	if err != nil {
		return models.Record{}, err
	}
	var oldLen, newLen int
	if c.Length != nil {
		oldLen = lengthValue(c.Length.Old)
		newLen = lengthValue(c.Length.New)
	}
	return models.Record{
		Timestamp:     FormatTimestamp(ts),
		Title:         c.Title,
		User:          c.User,
		IsBot:         c.Bot != nil && *c.Bot,
		ServerName:    c.ServerName,
		EditSizeBytes: newLen - oldLen,
		CountryCode:   nil,
	}, nil
}

// unixSeconds accepts integer or fractional seconds, truncating fractions, and
// rejects values whose year falls outside 1..9999.
func unixSeconds(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		if v < MinTimestamp || v > MaxTimestamp {
			return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, v)
		}
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTimestamp, n)
	}
	f = math.Floor(f)
	if f < float64(MinTimestamp) || f > float64(MaxTimestamp) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTimestamp, n)
	}
	return int64(f), nil
}

func FormatTimestamp(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(TimestampLayout)
}

func lengthValue(n *json.Number) int {
	if n == nil {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return int(v)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return 0
}
