// Package notify delivers admin messages to push subscribers outside the
// chat. Delivery is fire-and-forget: Notify returns at once, failures are
// logged and counted, nothing is retried.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/metrics"
)

// DefaultTitle is the push title used when none is configured.
const DefaultTitle = "Pesan Baru dari Admin"

// Payload is the JSON body pushed to subscribers.
type Payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	RoomID string `json:"roomId"`
}

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// Options tunes a Dispatcher.
type Options struct {
	Title       string
	MaxInFlight int64
	// MaxPending caps notifications accepted but not yet fully delivered.
	// Notify drops the message once the cap is reached.
	MaxPending  int64
	SendTimeout time.Duration
}

// Dispatcher fans admin messages out to every stored subscription with at
// most MaxInFlight concurrent sends and MaxPending outstanding messages.
type Dispatcher struct {
	subs    SubscriptionStore
	sender  Sender
	title   string
	timeout time.Duration
	sem     *semaphore.Weighted
	pending *semaphore.Weighted
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(subs SubscriptionStore, sender Sender, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 16
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		subs:    subs,
		sender:  sender,
		title:   opts.Title,
		timeout: opts.SendTimeout,
		sem:     semaphore.NewWeighted(opts.MaxInFlight),
		pending: semaphore.NewWeighted(opts.MaxPending),
		ctx:     ctx,
		cancel:  cancel,
		log:     logger.With().Str("component", "notify").Logger(),
	}
}

// Notify schedules delivery of msg and returns immediately. After Shutdown,
// or while MaxPending messages are outstanding, msg is dropped.
func (d *Dispatcher) Notify(roomID string, msg history.Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	if !d.pending.TryAcquire(1) {
		metrics.Notifications.WithLabelValues("dropped").Inc()
		d.log.Warn().Str("room", roomID).Int64("message_id", msg.ID).Msg("notification backlog full, dropping")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pending.Release(1)
		d.deliver(roomID, msg)
	}()
}

func (d *Dispatcher) deliver(roomID string, msg history.Message) {
	payload, err := json.Marshal(Payload{Title: d.title, Body: msg.Body, RoomID: roomID})
	if err != nil {
		d.log.Error().Err(err).Str("room", roomID).Msg("encode push payload")
		return
	}

	subs, err := d.subs.List(d.ctx)
	if err != nil {
		d.log.Error().Err(err).Str("room", roomID).Msg("list subscriptions")
		return
	}

	var sends sync.WaitGroup
	defer sends.Wait()

	for _, sub := range subs {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return
		}
		sends.Add(1)
		go func(sub Subscription) {
			defer sends.Done()
			defer d.sem.Release(1)
			d.send(roomID, sub, payload)
		}(sub)
	}
}

func (d *Dispatcher) send(roomID string, sub Subscription, payload []byte) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, sub, payload); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		d.log.Warn().Err(err).Str("room", roomID).Str("endpoint", sub.Endpoint).Msg("push notification failed")
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting notifications and waits up to timeout for
// in-flight sends; whatever is left after that is cancelled.
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-time.After(timeout):
		d.cancel()
		<-done
		return context.DeadlineExceeded
	}
}
