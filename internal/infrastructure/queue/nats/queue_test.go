package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/resilience"
)

func TestDecodeJobAcceptsNumericIdentifiers(t *testing.T) {
	job, err := decodeJob([]byte(`{"review_key":"k1","request":{"patient_id":77,"admission_id":"1400.0"}}`))
	if err != nil {
		t.Fatalf("decodeJob() error = %v", err)
	}
	if job.Request.PatientID != "77" || job.Request.AdmissionID != "1400" {
		t.Fatalf("unexpected identifiers: %+v", job.Request)
	}
}

func TestDecodeJobRejectsMalformedPayload(t *testing.T) {
	for _, payload := range []string{`not json`, `{"request":{}}`} {
		if _, err := decodeJob([]byte(payload)); !domain.IsKind(err, domain.ErrUnexpectedResponse) {
			t.Fatalf("decodeJob(%q) err = %v", payload, err)
		}
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		err  error
		want resilience.ErrorClassification
	}{
		{context.Canceled, resilience.ErrorClassification{}},
		{fmt.Errorf("publish: %w", nats.ErrConnectionClosed), resilience.ErrorClassification{Retryable: true, RecordFailure: true}},
		{nats.ErrNoServers, resilience.ErrorClassification{Retryable: true, RecordFailure: true}},
		{errors.New("bad subject"), resilience.ErrorClassification{RecordFailure: true}},
	}
	for _, tc := range cases {
		if got := classifyNATSError(tc.err); got != tc.want {
			t.Fatalf("classifyNATSError(%v) = %+v, want %+v", tc.err, got, tc.want)
		}
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded("nats publish", nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	permanent := errors.New("invalid subject")
	if err := wrapTemporaryIfNeeded("nats publish", permanent); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("permanent error must not become temporary")
	}
}

func TestConsumerRunsJobsDetachedFromShutdownSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	c := &consumer{
		shutdown: ctx,
		handle: func(runCtx context.Context, _ domain.ReviewJob) error {
			close(started)
			<-release
			handlerErr = runCtx.Err()
			return nil
		},
	}

	done := make(chan struct{})
	go func() {
		c.deliver("cdi.reviews", []byte(`{"review_key":"k1","request":{"patient_id":"77"}}`))
		close(done)
	}()
	<-started
	cancel()

	waited := make(chan struct{})
	go func() {
		c.wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatalf("wait returned while a review was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatalf("wait did not return after the review finished")
	}
	<-done
	if handlerErr != nil {
		t.Fatalf("running review saw cancelled context: %v", handlerErr)
	}
}

func TestConsumerAbandonsJobsDeliveredAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handled := false
	var abandoned []string
	var reason string
	var abandonCtxErr error
	c := &consumer{
		shutdown: ctx,
		handle: func(context.Context, domain.ReviewJob) error {
			handled = true
			return nil
		},
		abandon: func(runCtx context.Context, job domain.ReviewJob, why string) {
			abandoned = append(abandoned, job.ReviewKey)
			reason = why
			abandonCtxErr = runCtx.Err()
		},
	}

	c.deliver("cdi.reviews", []byte(`{"review_key":"k2","request":{"patient_id":"77"}}`))
	c.deliver("cdi.reviews", []byte(`not json`))
	c.wait()

	if handled {
		t.Fatalf("job delivered after shutdown must not run")
	}
	if len(abandoned) != 1 || abandoned[0] != "k2" || reason != ShutdownReason {
		t.Fatalf("abandoned = %v reason = %q", abandoned, reason)
	}
	if abandonCtxErr != nil {
		t.Fatalf("abandon must be able to write terminal state, ctx err = %v", abandonCtxErr)
	}
}

// TestQueueRoundTrip needs a broker; set NATS_TEST_URL to run it.
func TestQueueRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}
	subject := fmt.Sprintf("cdi.test.%d", time.Now().UnixNano())
	q, err := New(url, subject, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan domain.ReviewJob, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(ctx, func(_ context.Context, job domain.ReviewJob) error {
			received <- job
			return nil
		}, nil)
	}()
	time.Sleep(200 * time.Millisecond)

	want := domain.ReviewJob{ReviewKey: "k1", Request: domain.ReviewRequest{PatientID: "77", AdmissionID: "1400"}}
	if err := q.Dispatch(context.Background(), want); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	select {
	case got := <-received:
		a, _ := json.Marshal(got)
		b, _ := json.Marshal(want)
		if string(a) != string(b) {
			t.Fatalf("received %s, want %s", a, b)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job not received")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
}
