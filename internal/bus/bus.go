package bus

import (
	"log/slog"
	"sync"
	"time"

	"signalgate/internal/domain"
)

const defaultPublishTimeout = 10 * time.Second

// InMemoryBus hands inbound Signal messages from the relay to consumers
// over a buffered Go channel.
type InMemoryBus struct {
	inbound        chan domain.Message
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

var _ domain.MessageBus = (*InMemoryBus)(nil)

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.Message, bufferSize),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish blocks up to the publish timeout while the bus is full, then
// drops the message.
func (b *InMemoryBus) Publish(msg domain.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting...", "sender", msg.SenderNumber)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "sender", msg.SenderNumber)
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"sender", msg.SenderNumber,
				"timestamp", msg.Timestamp,
				"waited", b.publishTimeout,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Message {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
