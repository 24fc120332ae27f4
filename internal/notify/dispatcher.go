package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/proteeti/internal/model"
	"github.com/sakif/proteeti/internal/repository"
)

// DefaultAttemptTimeout bounds one send when none is configured.
const DefaultAttemptTimeout = 10 * time.Second

// DeliveryResult is the outcome for one recipient. In async mode the status
// is usually pending; callers poll the attempt rows for the final state.
type DeliveryResult struct {
	AttemptID int64               `json:"attempt_id"`
	Recipient string              `json:"recipient"`
	Status    model.AttemptStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
}

// DispatcherConfig controls delivery mode and pool size.
type DispatcherConfig struct {
	Async          bool
	Workers        int
	QueueSize      int
	AttemptTimeout time.Duration
}

type job struct {
	attempt model.NotificationAttempt
	msg     Message
}

// Dispatcher fans a batch of messages out to recipients and records every
// attempt.
//
// SYNC MODE:
// Dispatch sends each message in turn, each bounded by AttemptTimeout, and
// returns the final results. A failing recipient never stops the others.
//
// ASYNC MODE:
// Dispatch writes pending attempt rows, hands the messages to a fixed pool of
// workers and returns immediately. When the queue is full the message is sent
// inline, so nothing is dropped. Stop drains whatever is still queued.
//
// There are no retries. A failed attempt stays failed.
type Dispatcher struct {
	mailer   Mailer
	attempts repository.NotificationRepository
	logger   *slog.Logger
	cfg      DispatcherConfig

	jobs chan job
	done chan struct{}
	wg   sync.WaitGroup

	// mu guards running so no job is enqueued before Start or after Stop.
	mu      sync.RWMutex
	running bool

	startOnce sync.Once
	stopOnce  sync.Once

	now func() time.Time
}

// NewDispatcher creates a dispatcher. Call Start before Dispatch when async
// mode is on; until then messages are sent inline.
func NewDispatcher(mailer Mailer, attempts repository.NotificationRepository, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Dispatcher{
		mailer:   mailer,
		attempts: attempts,
		logger:   logger,
		cfg:      cfg,
		jobs:     make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Async reports whether Dispatch hands work to the pool.
func (d *Dispatcher) Async() bool {
	return d.cfg.Async
}

// Start launches the workers. It is a no-op in sync mode and on repeat calls.
func (d *Dispatcher) Start() {
	if !d.cfg.Async {
		return
	}
	d.startOnce.Do(func() {
		d.logger.Info("starting notification workers",
			slog.Int("workers", d.cfg.Workers),
			slog.Int("queue_size", d.cfg.QueueSize),
		)
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.mu.Lock()
		d.running = true
		d.mu.Unlock()
	})
}

// Stop stops the workers and sends everything still queued before returning.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()

		for {
			select {
			case j := <-d.jobs:
				queueDepth.Dec()
				d.deliver(context.Background(), j)
			default:
				d.logger.Info("notification workers stopped")
				return
			}
		}
	})
}

// Dispatch records one attempt per message and delivers them. alertID may be
// zero for audio that could not be tied to an alert.
//
// When the attempt rows cannot be written every message is still sent
// inline and the results carry AttemptID 0.
func (d *Dispatcher) Dispatch(ctx context.Context, alertID int64, username string, kind model.MessageKind, msgs []Message) ([]DeliveryResult, error) {
	if len(msgs) == 0 {
		return []DeliveryResult{}, nil
	}

	rows := make([]model.NotificationAttempt, len(msgs))
	for i, m := range msgs {
		rows[i] = model.NotificationAttempt{
			AlertID:   alertID,
			Username:  username,
			Recipient: m.To,
			Kind:      kind,
		}
	}
	created, err := d.attempts.CreateAttempts(ctx, rows)
	if err != nil {
		// Losing the bookkeeping must not cost anyone their alert: send
		// everything inline without attempt rows.
		d.logger.Error("recording notification attempts failed, sending unrecorded",
			slog.Int64("alert_id", alertID),
			slog.Int("recipients", len(msgs)),
			slog.String("error", err.Error()),
		)
		results := make([]DeliveryResult, len(msgs))
		for i := range msgs {
			results[i] = d.deliver(context.WithoutCancel(ctx), job{attempt: rows[i], msg: msgs[i]})
		}
		return results, nil
	}

	results := make([]DeliveryResult, len(created))
	for i, a := range created {
		j := job{attempt: a, msg: msgs[i]}
		if d.cfg.Async && d.enqueue(j) {
			results[i] = DeliveryResult{AttemptID: a.ID, Recipient: a.Recipient, Status: model.AttemptPending}
			continue
		}
		// The request may finish before a slow send; the attempt keeps its
		// own deadline either way.
		results[i] = d.deliver(context.WithoutCancel(ctx), j)
	}
	return results, nil
}

// enqueue reports false when the pool is not running or the queue is full.
func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return false
	}
	select {
	case d.jobs <- j:
		queueDepth.Inc()
		return true
	default:
		d.logger.Warn("notification queue full, sending inline", slog.String("recipient", j.attempt.Recipient))
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case j := <-d.jobs:
			queueDepth.Dec()
			d.deliver(context.Background(), j)
		}
	}
}

// deliver sends one message under the attempt timeout and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, j job) DeliveryResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	kind := string(j.attempt.Kind)
	start := d.now()
	err := d.mailer.Send(ctx, j.msg)
	deliveryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	res := DeliveryResult{AttemptID: j.attempt.ID, Recipient: j.attempt.Recipient, Status: model.AttemptSent}
	if err != nil {
		res.Status = model.AttemptFailed
		res.Error = err.Error()
		d.logger.Warn("emergency notification failed",
			slog.Int64("alert_id", j.attempt.AlertID),
			slog.String("recipient", j.attempt.Recipient),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	} else {
		d.logger.Info("emergency notification sent",
			slog.Int64("alert_id", j.attempt.AlertID),
			slog.String("recipient", j.attempt.Recipient),
			slog.String("kind", kind),
		)
	}
	deliveriesTotal.WithLabelValues(kind, string(res.Status)).Inc()

	if j.attempt.ID == 0 {
		return res
	}

	// Recorded on a fresh context so a cancelled request still leaves a
	// final status behind.
	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer recordCancel()
	if err := d.attempts.FinishAttempt(recordCtx, j.attempt.ID, res.Status, res.Error, d.now()); err != nil {
		d.logger.Error("recording notification attempt failed",
			slog.Int64("attempt_id", j.attempt.ID),
			slog.String("error", err.Error()),
		)
	}
	return res
}
