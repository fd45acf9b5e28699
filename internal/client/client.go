package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"signalgate/internal/domain"
	"signalgate/internal/metrics"
	"signalgate/internal/parser"
)

// Transport operation names understood by signal-cli.
const (
	opSend           = "send"
	opReceive        = "receive"
	opListIdentities = "listIdentities"
	opTrust          = "trust"
)

type Config struct {
	Transport domain.Transport
	Receipt   ReceiptPolicy
	// ReceiveTimeout is passed to signal-cli receive as -t; zero leaves
	// signal-cli's own default.
	ReceiveTimeout time.Duration
	Logger         *slog.Logger
}

// Client serializes all access to one signal-cli account.
type Client struct {
	transport   domain.Transport
	policy      ReceiptPolicy
	receiveArgs []string
	logger      *slog.Logger

	// gate guards the transport; held for the full duration of every
	// transport-touching operation.
	gate sync.Mutex

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errors.New("client: transport is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var receiveArgs []string
	if cfg.ReceiveTimeout > 0 {
		secs := int(cfg.ReceiveTimeout.Round(time.Second) / time.Second)
		receiveArgs = []string{"-t", strconv.Itoa(max(secs, 1))}
	}
	return &Client{
		transport:   cfg.Transport,
		policy:      cfg.Receipt.normalized(),
		receiveArgs: receiveArgs,
		logger:      cfg.Logger,
		now:         time.Now,
		wait:        sleepContext,
	}, nil
}

// acquire blocks until the gate is free and returns its release func.
func (c *Client) acquire() func() {
	metrics.GateWaiters.Inc()
	c.gate.Lock()
	metrics.GateWaiters.Dec()
	return c.gate.Unlock
}

// Receive fetches and parses everything signal-cli has queued.
func (c *Client) Receive(ctx context.Context) ([]domain.Message, error) {
	release := c.acquire()
	defer release()
	return c.receiveLocked(ctx)
}

func (c *Client) receiveLocked(ctx context.Context) ([]domain.Message, error) {
	out, err := c.transport.Invoke(ctx, opReceive, c.receiveArgs...)
	if err != nil {
		return nil, err
	}
	msgs, err := parser.ParseMessages(out.Stdout)
	if err != nil {
		metrics.ParseErrors.Inc()
		return nil, fmt.Errorf("parse receive output: %w", err)
	}
	metrics.MessagesReceived.Add(int64(len(msgs)))
	c.logger.Debug("received", "messages", len(msgs))
	return msgs, nil
}

// Identities lists known identity keys, optionally for one number only.
func (c *Client) Identities(ctx context.Context, number string) ([]domain.Identity, error) {
	var args []string
	if number != "" {
		args = []string{"-n", number}
	}

	release := c.acquire()
	defer release()

	out, err := c.transport.Invoke(ctx, opListIdentities, args...)
	if err != nil {
		return nil, err
	}
	ids, err := parser.ParseIdentities(out.Stdout)
	if err != nil {
		metrics.ParseErrors.Inc()
		return nil, fmt.Errorf("parse identity listing: %w", err)
	}
	return ids, nil
}

// IdentityReview groups identities by trust state.
type IdentityReview struct {
	Untrusted  []domain.Identity
	Unverified []domain.Identity
	Verified   []domain.Identity
}

// NeedsAttention reports whether any identity is not yet verified.
func (r IdentityReview) NeedsAttention() bool {
	return len(r.Untrusted) > 0 || len(r.Unverified) > 0
}

// ReviewIdentities lists all identities and sorts them by trust state.
func (c *Client) ReviewIdentities(ctx context.Context) (IdentityReview, error) {
	ids, err := c.Identities(ctx, "")
	if err != nil {
		return IdentityReview{}, err
	}
	var review IdentityReview
	for _, id := range ids {
		switch id.TrustStatus {
		case domain.Untrusted:
			review.Untrusted = append(review.Untrusted, id)
		case domain.TrustedUnverified:
			review.Unverified = append(review.Unverified, id)
		case domain.TrustedVerified:
			review.Verified = append(review.Verified, id)
		}
	}
	return review, nil
}

// Trust marks number's identity key verified, after the caller has
// compared safety numbers out of band.
func (c *Client) Trust(ctx context.Context, number string, safety domain.SafetyNumber) error {
	groups := safety.Groups()
	if len(groups) != domain.SafetyNumberGroups {
		return fmt.Errorf("safety number has %d groups, want %d", len(groups), domain.SafetyNumberGroups)
	}
	for _, g := range groups {
		if !isFiveDigits(g) {
			return fmt.Errorf("safety number group %q is not five digits", g)
		}
	}

	release := c.acquire()
	defer release()

	_, err := c.transport.Invoke(ctx, opTrust, "-v", safety.Digits(), number)
	return err
}

func isFiveDigits(s string) bool {
	if len(s) != 5 {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// TrustAllKeys trusts every known key for number without verification.
func (c *Client) TrustAllKeys(ctx context.Context, number string) error {
	release := c.acquire()
	defer release()

	_, err := c.transport.Invoke(ctx, opTrust, "-a", number)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
