// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-docparser/pkg/schema"
)

const drainTimeout = 30 * time.Second

type Client struct {
	nc     *nats.Conn
	closed chan struct{}
}

func Connect(url string, opts ...nats.Option) (*Client, error) {
	base := []nats.Option{
		nats.Name("simple-docparser"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	closed := make(chan struct{})
	var once sync.Once
	base = append(base, nats.ClosedHandler(func(*nats.Conn) { once.Do(func() { close(closed) }) }))
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc, closed: closed}, nil
}

// Close drains the connection and waits until it is closed. Stop queue
// workers first so their replies go out before the drain.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return
	}
	select {
	case <-c.closed:
	case <-time.After(drainTimeout):
		c.nc.Close()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// RequestJSON sends req on subject and decodes the reply into resp.
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp any) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, b)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("no workers listening on %s: %w", subject, err)
		}
		return err
	}
	return json.Unmarshal(msg.Data, resp)
}

// Handler processes one job message. A non-nil reply is sent back when the
// sender asked for one.
type Handler func(ctx context.Context, data []byte) (reply any)

// WorkerOptions bound how a queue worker runs its handlers.
type WorkerOptions struct {
	Concurrency int           // handlers running at once, at least 1
	Timeout     time.Duration // per job, 0 means none
	Logger      *slog.Logger
}

// Worker runs a Handler for every message of a queue subscription.
type Worker struct {
	subject string
	opts    WorkerOptions
	handler Handler
	logger  *slog.Logger
	respond func(msg *nats.Msg, data []byte) error

	sub   *nats.Subscription
	slots chan struct{}

	// jobs run under base, which outlives the caller's context and is
	// cancelled only when Stop runs out of grace.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// QueueWorker subscribes to subject in the named queue group. Each message
// runs in its own goroutine; when Concurrency handlers are busy the
// subscription stops taking messages until one finishes. Handler contexts
// keep ctx's values but not its cancellation: call Stop to shut down.
func (c *Client) QueueWorker(ctx context.Context, subject, queue string, opts WorkerOptions, h Handler) (*Worker, error) {
	w := newWorker(ctx, subject, opts, h)
	sub, err := c.nc.QueueSubscribe(subject, queue, w.deliver)
	if err != nil {
		w.cancel()
		return nil, err
	}
	w.sub = sub
	return w, nil
}

func newWorker(ctx context.Context, subject string, opts WorkerOptions, h Handler) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Worker{
		subject: subject,
		opts:    opts,
		handler: h,
		logger:  logger,
		respond: func(msg *nats.Msg, data []byte) error { return msg.Respond(data) },
		slots:   make(chan struct{}, opts.Concurrency),
		base:    base,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}
}

func (w *Worker) deliver(msg *nats.Msg) {
	select {
	case w.slots <- struct{}{}:
	case <-w.stopCh:
		return
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.slots
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		w.run(msg)
	}()
}

func (w *Worker) run(msg *nats.Msg) {
	ctx := w.base
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}

	reply := w.call(ctx, msg.Data)
	if msg.Reply == "" || reply == nil {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		w.logger.Error("encode reply failed", "subject", w.subject, "err", err)
		return
	}
	if err := w.respond(msg, b); err != nil {
		w.logger.Error("send reply failed", "subject", w.subject, "err", err)
	}
}

// call runs the handler. A panic becomes an internal-error reply.
func (w *Worker) call(ctx context.Context, data []byte) (reply any) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic recovered", "subject", w.subject, "err", r, "stack", string(debug.Stack()))
			reply = schema.JobReply{Error: "internal error", FailureType: schema.FailureTypeRetryable}
		}
	}()
	return w.handler(ctx, data)
}

// Stop unsubscribes and waits for running handlers. Handlers still running
// after grace have their context cancelled; Stop then waits for them to
// return. A grace of zero or less waits without limit.
func (w *Worker) Stop(grace time.Duration) error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return nil
	}
	w.stopping = true
	close(w.stopCh)
	w.mu.Unlock()

	var err error
	if w.sub != nil {
		err = w.sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if grace > 0 {
		select {
		case <-done:
		case <-time.After(grace):
			w.logger.Warn("shutdown grace expired, cancelling running jobs", "subject", w.subject, "grace", grace)
			w.cancel()
			<-done
		}
	} else {
		<-done
	}
	w.cancel()
	return err
}
