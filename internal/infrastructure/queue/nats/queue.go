package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/resilience"
)

// Queue carries accepted reviews from the API to workers on one subject.
type Queue struct {
	conn         *nats.Conn
	subject      string
	queueGroup   string
	executor     *resilience.Executor
	drainTimeout time.Duration
}

type Options struct {
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// DrainTimeout bounds the wait for buffered jobs after shutdown begins.
	DrainTimeout time.Duration
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	drainTimeout := options.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Minute
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = "review-workers"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("inpatient-cdi-review"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "connect nats", err)
	}
	return &Queue{
		conn:         conn,
		subject:      subject,
		queueGroup:   queueGroup,
		executor:     options.ResilienceExecutor,
		drainTimeout: drainTimeout,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Name() string { return "review_queue" }

func (q *Queue) Ping(context.Context) error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.WrapError(domain.ErrTemporary, "nats ping", nats.ErrDisconnected)
	}
	return nil
}

// Dispatch publishes the job; delivery is at-most-once per worker group.
func (q *Queue) Dispatch(ctx context.Context, job domain.ReviewJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode review job: %w", err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded("nats publish", err)
	}
	return nil
}

// ShutdownReason is recorded on jobs delivered after the worker began
// shutting down.
const ShutdownReason = "worker shutting down"

// Subscribe blocks until ctx is done, handing each decoded job to handle.
// Handlers run detached from ctx so a signal does not cut a review short.
// After ctx is done the subscription drains: jobs still buffered are passed
// to abandon instead of handle, and Subscribe returns only once every
// handler has finished. Undecodable messages are logged and dropped.
func (q *Queue) Subscribe(
	ctx context.Context,
	handle func(context.Context, domain.ReviewJob) error,
	abandon func(context.Context, domain.ReviewJob, string),
) error {
	c := &consumer{shutdown: ctx, handle: handle, abandon: abandon}
	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(msg *nats.Msg) {
		c.deliver(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	closed := sub.StatusChanged(nats.SubscriptionClosed)
	if err := sub.Drain(); err != nil {
		c.wait()
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	select {
	case <-closed:
	case <-time.After(q.drainTimeout):
		slog.Warn("nats_drain_timeout", "subject", q.subject, "timeout", q.drainTimeout)
	}
	c.wait()
	return nil
}

// consumer runs one subscription's deliveries. NATS invokes deliver serially
// per subscription.
type consumer struct {
	shutdown context.Context
	handle   func(context.Context, domain.ReviewJob) error
	abandon  func(context.Context, domain.ReviewJob, string)
	inFlight sync.WaitGroup
}

func (c *consumer) deliver(subject string, data []byte) {
	c.inFlight.Add(1)
	defer c.inFlight.Done()

	job, err := decodeJob(data)
	if err != nil {
		slog.Error("review_job_decode_failed", "subject", subject, "error", err)
		return
	}

	runCtx := context.WithoutCancel(c.shutdown)
	if c.shutdown.Err() != nil {
		slog.Warn("review_job_abandoned", "review_key", job.ReviewKey, "reason", ShutdownReason)
		if c.abandon != nil {
			c.abandon(runCtx, job, ShutdownReason)
		}
		return
	}
	if err := c.handle(runCtx, job); err != nil {
		slog.Warn("review_job_failed", "review_key", job.ReviewKey, "error", err)
	}
}

func (c *consumer) wait() {
	c.inFlight.Wait()
}

func decodeJob(data []byte) (domain.ReviewJob, error) {
	var job domain.ReviewJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.ReviewJob{}, domain.WrapError(domain.ErrUnexpectedResponse, "decode review job", err)
	}
	if job.ReviewKey == "" {
		return domain.ReviewJob{}, domain.WrapError(domain.ErrUnexpectedResponse, "decode review job", errors.New("review key is empty"))
	}
	return job, nil
}
