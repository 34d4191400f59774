// Package runner drives one ingestion run: connect to the change stream,
// normalize and batch edits, post full batches, and flush whatever is left
// once the run stops.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wikistream/pkg/batch"
	"wikistream/pkg/consumer"
	"wikistream/pkg/ingest"
	"wikistream/pkg/metrics"
	"wikistream/pkg/models"
	"wikistream/pkg/normalizer"
	"wikistream/pkg/stats"
)

const DefaultSendTimeout = 30 * time.Second

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type StopReason string

const (
	StopTimeout       StopReason = "timeout"
	StopExhausted     StopReason = "exhausted"
	StopStreamError   StopReason = "stream_error"
	StopConnectFailed StopReason = "connect_failed"
	StopCancelled     StopReason = "cancelled"
)

type Sender interface {
	Send(ctx context.Context, records []models.Record) error
}

type Params struct {
	Source      consumer.Consumer
	Sender      Sender
	Normalizer  *normalizer.Normalizer
	Accumulator *batch.Accumulator
	Stats       stats.Recorder
	Logger      *zap.Logger

	// Timeout is the run budget, checked each time a message arrives. Zero
	// means no budget.
	Timeout     time.Duration
	SendTimeout time.Duration
	Now         func() time.Time
}

// Summary describes a finished run
type Summary struct {
	StopReason    StopReason
	Err           error
	Messages      int
	Records       int
	Dropped       int
	Batches       int
	FailedBatches int
	RecordsSent   int
	RecordsLost   int
	Elapsed       time.Duration
}

type Runner struct {
	source      consumer.Consumer
	sender      Sender
	normalizer  *normalizer.Normalizer
	acc         *batch.Accumulator
	stats       stats.Recorder
	logger      *zap.Logger
	timeout     time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	state       atomic.Int32
}

func New(p Params) *Runner {
	r := &Runner{
		source:      p.Source,
		sender:      p.Sender,
		normalizer:  p.Normalizer,
		acc:         p.Accumulator,
		stats:       p.Stats,
		logger:      p.Logger,
		timeout:     p.Timeout,
		sendTimeout: p.SendTimeout,
		now:         p.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("runner")
	if r.normalizer == nil {
		r.normalizer = normalizer.New(r.logger)
	}
	if r.acc == nil {
		r.acc = batch.NewAccumulator(batch.DefaultCapacity)
	}
	if r.stats == nil {
		r.stats = stats.NewInMemory()
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = DefaultSendTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Run executes the run to completion. It never returns early without
// attempting the final flush.
func (r *Runner) Run(ctx context.Context) Summary {
	start := r.now()
	var sum Summary

	r.setState(StateConnecting)
	stream, err := r.source.Connect(ctx)
	if err != nil {
		sum.StopReason = StopConnectFailed
		if ctx.Err() != nil {
			sum.StopReason = StopCancelled
		}
		sum.Err = err
		r.logger.Error("could not connect to stream", zap.Error(err))
	} else {
		r.setState(StateStreaming)
		r.logger.Info("streaming", zap.Duration("timeout", r.timeout), zap.Int("batch_size", r.acc.Cap()))
		sum.StopReason, sum.Err = r.consume(ctx, stream, start, &sum)
		if err := stream.Close(); err != nil {
			r.logger.Debug("closing stream", zap.Error(err))
		}
		r.logStop(sum)
	}

	r.setState(StateStopped)
	if r.acc.Len() > 0 {
		r.logger.Info("flushing remaining records", zap.Int("records", r.acc.Len()))
	}
	// The final flush must still go out after a shutdown signal
	r.flush(context.WithoutCancel(ctx), &sum)

	sum.Elapsed = r.now().Sub(start)
	return sum
}

func (r *Runner) consume(ctx context.Context, stream consumer.MessageStream, start time.Time, sum *Summary) (reason StopReason, err error) {
	defer func() {
		if p := recover(); p != nil {
			reason = StopStreamError
			err = fmt.Errorf("panic while streaming: %v", p)
		}
	}()

	for stream.Next() {
		if r.timeout > 0 && r.now().Sub(start) > r.timeout {
			return StopTimeout, nil
		}
		sum.Messages++
		metrics.MessagesReceived.Inc()

		rec, ok := r.normalizer.Normalize(stream.Message())
		if !ok {
			sum.Dropped++
			continue
		}
		sum.Records++
		metrics.Records.Inc()
		r.stats.Record(rec)

		ready := r.acc.Append(rec)
		metrics.PendingRecords.Set(float64(r.acc.Len()))
		if ready {
			r.flush(ctx, sum)
		}
	}

	if ctx.Err() != nil {
		return StopCancelled, nil
	}
	if err := stream.Err(); err != nil {
		return StopStreamError, err
	}
	return StopExhausted, nil
}

// flush drains the accumulator and posts the batch once. A failed batch is
// dropped.
func (r *Runner) flush(ctx context.Context, sum *Summary) {
	b := r.acc.Drain()
	metrics.PendingRecords.Set(0)
	if b.Len() == 0 {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	started := time.Now()
	err := r.sender.Send(sendCtx, b.Records)
	metrics.SendDuration.Observe(time.Since(started).Seconds())
	sum.Batches++

	if err != nil {
		sum.FailedBatches++
		sum.RecordsLost += b.Len()
		metrics.BatchesSent.WithLabelValues(metrics.OutcomeFailure).Inc()
		fields := []zap.Field{zap.String("batch_id", b.ID), zap.Int("records", b.Len()), zap.Error(err)}
		var statusErr *ingest.StatusError
		if errors.As(err, &statusErr) {
			fields = append(fields, zap.Int("status", statusErr.StatusCode), zap.String("body", statusErr.Body))
		}
		r.logger.Error("batch dropped", fields...)
		return
	}

	sum.RecordsSent += b.Len()
	metrics.BatchesSent.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.RecordsSent.Add(float64(b.Len()))
	r.logger.Info("batch sent",
		zap.String("batch_id", b.ID),
		zap.Int("records", b.Len()),
		zap.Duration("age", b.ClosedAt.Sub(b.OpenedAt)),
	)
}

func (r *Runner) logStop(sum Summary) {
	switch sum.StopReason {
	case StopStreamError:
		r.logger.Error("stream failed", zap.Error(sum.Err), zap.Int("messages", sum.Messages))
	case StopTimeout:
		r.logger.Info("run budget exhausted", zap.Duration("timeout", r.timeout))
	default:
		r.logger.Info("stream stopped", zap.String("reason", string(sum.StopReason)))
	}
}
