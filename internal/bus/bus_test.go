package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"signalgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func msg(ts int64) domain.Message {
	body := "hi"
	return domain.Message{SenderNumber: "+1", DeviceID: 1, Timestamp: ts, Body: &body}
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(msg(1))
	b.Publish(msg(2))

	ch := b.Subscribe()
	for _, want := range []int64{1, 2} {
		select {
		case got := <-ch:
			if got.Timestamp != want {
				t.Errorf("timestamp = %d, want %d", got.Timestamp, want)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestInMemoryBus_WaitsForRoomWhenFull(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(msg(1))

	done := make(chan struct{})
	go func() {
		b.Publish(msg(2))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	<-b.Subscribe()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete after room was made")
	}
	if got := <-b.Subscribe(); got.Timestamp != 2 {
		t.Errorf("timestamp = %d, want 2", got.Timestamp)
	}
}

func TestInMemoryBus_DropsAfterTimeout(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 10 * time.Millisecond
	b.Publish(msg(1))
	b.Publish(msg(2))

	if got := <-b.Subscribe(); got.Timestamp != 1 {
		t.Errorf("timestamp = %d, want 1", got.Timestamp)
	}
	select {
	case m := <-b.Subscribe():
		t.Errorf("unexpected message %+v", m)
	default:
	}
}

func TestInMemoryBus_Close(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()
	b.Publish(msg(1))

	if _, ok := <-b.Subscribe(); ok {
		t.Error("expected closed channel")
	}
}
