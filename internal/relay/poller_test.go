package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"signalgate/internal/bus"
	"signalgate/internal/domain"
	"signalgate/internal/parser"
	"signalgate/internal/signalcli"
)

type fakeReceiver struct {
	mu      sync.Mutex
	batches [][]domain.Message
	errs    []error
	calls   int
}

func (f *fakeReceiver) Receive(ctx context.Context) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeReceiver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	domain.MessageStore
	saved [][]domain.Message
	err   error
}

func (s *fakeStore) SaveMessages(_ context.Context, _ string, msgs []domain.Message) error {
	s.saved = append(s.saved, msgs)
	return s.err
}

func body(ts int64, text string) domain.Message {
	return domain.Message{SenderNumber: "+1", DeviceID: 1, Timestamp: ts, Body: &text}
}

func receipt(ts int64) domain.Message {
	return domain.Message{SenderNumber: "+1", DeviceID: 1, Timestamp: ts, IsReceipt: true}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPollOnce_StoresAllPublishesNonReceipts(t *testing.T) {
	rx := &fakeReceiver{batches: [][]domain.Message{{body(1, "a"), receipt(2), body(3, "b")}}}
	store := &fakeStore{}
	b := bus.New(10, discard())
	p := NewPoller(PollerConfig{Account: "+64", Logger: discard()}, rx, store, b)

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("published = %d, want 2", n)
	}
	if len(store.saved) != 1 || len(store.saved[0]) != 3 {
		t.Errorf("stored = %+v", store.saved)
	}
	for _, want := range []string{"a", "b"} {
		if got := <-b.Subscribe(); got.Text() != want {
			t.Errorf("bus delivered %q, want %q", got.Text(), want)
		}
	}
}

func TestPollOnce_StoreFailureStillPublishes(t *testing.T) {
	rx := &fakeReceiver{batches: [][]domain.Message{{body(1, "a")}}}
	b := bus.New(10, discard())
	p := NewPoller(PollerConfig{Logger: discard()}, rx, &fakeStore{err: errors.New("disk full")}, b)

	n, err := p.PollOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestPollOnce_NilStore(t *testing.T) {
	rx := &fakeReceiver{batches: [][]domain.Message{{body(1, "a")}}}
	p := NewPoller(PollerConfig{Logger: discard()}, rx, nil, bus.New(1, discard()))
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestStart_ContinuesAfterErrors(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	rx := &fakeReceiver{
		errs: []error{
			&parser.ParseError{Kind: parser.UnexpectedLine, Line: 2, Text: "garbage"},
			&signalcli.ProcessError{Kind: signalcli.NonZeroExit, Op: "receive", ExitCode: 1, Stderr: "boom"},
			nil,
		},
		batches: [][]domain.Message{{body(1, "after errors")}},
	}
	b := bus.New(10, discard())
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond, Logger: logger}, rx, nil, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	select {
	case m := <-b.Subscribe():
		if m.Text() != "after errors" {
			t.Errorf("got %q", m.Text())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not recover from errors")
	}
	cancel()
	<-done

	if rx.callCount() < 3 {
		t.Errorf("receive calls = %d", rx.callCount())
	}
	out := logs.String()
	if !strings.Contains(out, "unparseable receive output") || !strings.Contains(out, "signal-cli failed") {
		t.Errorf("missing error logs:\n%s", out)
	}
}
