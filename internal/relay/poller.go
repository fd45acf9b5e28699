// Package relay keeps draining signal-cli in the background, storing what
// arrives and fanning non-receipt messages out on the message bus.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signalgate/internal/domain"
	"signalgate/internal/parser"
	"signalgate/internal/signalcli"
)

const defaultInterval = 10 * time.Second

// Receiver is satisfied by *client.Client.
type Receiver interface {
	Receive(ctx context.Context) ([]domain.Message, error)
}

type PollerConfig struct {
	Account  string
	Interval time.Duration
	Logger   *slog.Logger
}

type Poller struct {
	receiver Receiver
	store    domain.MessageStore // optional
	bus      domain.MessageBus
	account  string
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller wires a poller; store may be nil to skip persistence.
func NewPoller(cfg PollerConfig, receiver Receiver, store domain.MessageStore, bus domain.MessageBus) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		receiver: receiver,
		store:    store,
		bus:      bus,
		account:  cfg.Account,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}
}

// Start polls immediately and then every interval until ctx is cancelled.
// Failed polls are logged and do not stop the loop.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("relay started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logPollError(err)
		}
		select {
		case <-ctx.Done():
			p.logger.Info("relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single receive and returns how many messages were
// published to the bus.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	msgs, err := p.receiver.Receive(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if p.store != nil {
		if err := p.store.SaveMessages(ctx, p.account, msgs); err != nil {
			p.logger.Error("failed to store received messages", "count", len(msgs), "err", err)
		}
	}

	published := 0
	for _, m := range msgs {
		if m.IsReceipt {
			continue
		}
		p.bus.Publish(m)
		published++
	}
	p.logger.Debug("relay poll", "received", len(msgs), "published", published)
	return published, nil
}

func (p *Poller) logPollError(err error) {
	var perr *parser.ParseError
	var xerr *signalcli.ProcessError
	switch {
	case errors.As(err, &perr):
		p.logger.Warn("relay: unparseable receive output", "kind", perr.Kind, "line", perr.Line, "text", perr.Text)
	case signalcli.IsTimeout(err):
		p.logger.Warn("relay: receive timed out", "err", err)
	case errors.As(err, &xerr):
		p.logger.Error("relay: signal-cli failed", "op", xerr.Op, "exit_code", xerr.ExitCode, "stderr", xerr.Stderr)
	default:
		p.logger.Error("relay: receive failed", "err", err)
	}
}
