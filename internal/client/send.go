package client

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"signalgate/internal/domain"
	"signalgate/internal/metrics"
	"signalgate/internal/signalcli"
)

const (
	defaultMaxAttempts  = 10
	defaultPollInterval = time.Second
	defaultDeadline     = 2 * time.Minute
)

// ReceiptPolicy bounds the wait for a delivery receipt. The zero value
// selects the defaults; otherwise MaxAttempts is raised to at least 1 and a
// zero Deadline means attempts are the only bound.
type ReceiptPolicy struct {
	MaxAttempts  int
	PollInterval time.Duration
	Deadline     time.Duration
}

func DefaultReceiptPolicy() ReceiptPolicy {
	return ReceiptPolicy{
		MaxAttempts:  defaultMaxAttempts,
		PollInterval: defaultPollInterval,
		Deadline:     defaultDeadline,
	}
}

func (p ReceiptPolicy) normalized() ReceiptPolicy {
	if p == (ReceiptPolicy{}) {
		return DefaultReceiptPolicy()
	}
	p.MaxAttempts = max(p.MaxAttempts, 1)
	p.PollInterval = max(p.PollInterval, 0)
	p.Deadline = max(p.Deadline, 0)
	return p
}

type SendRequest struct {
	Body          string
	Recipients    []string
	Attachments   []string // file paths
	VerifyReceipt bool
}

// SendResult is what Send hands back. Unhandled holds the non-receipt
// messages that arrived while waiting for the receipt, in arrival order;
// it is empty when no receipt was requested.
type SendResult struct {
	SentAt    time.Time
	Receipt   *domain.Message
	Attempts  int
	Unhandled []domain.Message
}

func sendArgs(req SendRequest) []string {
	args := make([]string, 0, 3+len(req.Recipients)+len(req.Attachments))
	args = append(args, "-m", req.Body)
	args = append(args, req.Recipients...)
	if len(req.Attachments) > 0 {
		args = append(args, "-a")
		args = append(args, req.Attachments...)
	}
	return args
}

// Send sends a message and, when req.VerifyReceipt is set, polls receive
// until a receipt timestamped at or after the send shows up. Earlier
// receipts confirm earlier sends and are dropped; everything else that
// arrives meanwhile is returned as unhandled.
//
// If the policy is exhausted first, Send returns the partial result
// together with a *ReceiptNotFoundError carrying the same unhandled
// messages.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if len(req.Recipients) == 0 {
		return nil, errors.New("send: at least one recipient is required")
	}

	release := c.acquire()
	defer release()

	sentAt := c.now()
	if _, err := c.transport.Invoke(ctx, opSend, sendArgs(req)...); err != nil {
		return nil, err
	}
	c.logger.Info("message sent", "recipients", len(req.Recipients), "attachments", len(req.Attachments))

	result := &SendResult{SentAt: sentAt, Unhandled: []domain.Message{}}
	if !req.VerifyReceipt {
		return result, nil
	}
	return c.awaitReceipt(ctx, result)
}

// awaitReceipt runs with the gate held.
func (c *Client) awaitReceipt(ctx context.Context, result *SendResult) (*SendResult, error) {
	waitCtx := ctx
	if c.policy.Deadline > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.policy.Deadline)
		defer cancel()
	}
	sentMillis := result.SentAt.UnixMilli()

	notFound := func() (*SendResult, error) {
		metrics.ReceiptsNotFound.Inc()
		c.logger.Warn("delivery receipt not found", "attempts", result.Attempts, "unhandled", len(result.Unhandled))
		return result, &ReceiptNotFoundError{
			Attempts:  result.Attempts,
			SentAt:    result.SentAt,
			Unhandled: result.Unhandled,
		}
	}
	// deadlineHit tells the policy deadline apart from the caller's ctx.
	deadlineHit := func() bool {
		return ctx.Err() == nil && waitCtx.Err() != nil
	}

	for result.Attempts < c.policy.MaxAttempts {
		if result.Attempts > 0 {
			if err := c.wait(waitCtx, c.policy.PollInterval); err != nil {
				if deadlineHit() {
					return notFound()
				}
				return result, err
			}
		}
		result.Attempts++

		msgs, err := c.receiveLocked(waitCtx)
		if err != nil {
			if deadlineHit() {
				return notFound()
			}
			if signalcli.IsTimeout(err) {
				c.logger.Warn("receive timed out while waiting for receipt", "attempt", result.Attempts)
				continue
			}
			return result, err
		}

		var receipts []domain.Message
		for _, m := range msgs {
			if m.IsReceipt {
				receipts = append(receipts, m)
			} else {
				result.Unhandled = append(result.Unhandled, m)
			}
		}

		if receipt, ok := firstReceiptSince(receipts, sentMillis); ok {
			result.Receipt = &receipt
			metrics.ReceiptsConfirmed.Inc()
			c.logger.Info("delivery confirmed",
				"from", receipt.SenderNumber,
				"attempts", result.Attempts,
				"latency", time.UnixMilli(receipt.Timestamp).Sub(result.SentAt),
			)
			return result, nil
		}
		if len(receipts) > 0 {
			c.logger.Debug("discarded stale receipts", "count", len(receipts), "attempt", result.Attempts)
		}
	}
	return notFound()
}

// firstReceiptSince returns the earliest receipt whose timestamp is not
// before sentMillis.
func firstReceiptSince(receipts []domain.Message, sentMillis int64) (domain.Message, bool) {
	slices.SortStableFunc(receipts, func(a, b domain.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	for _, r := range receipts {
		if r.Timestamp >= sentMillis {
			return r, true
		}
	}
	return domain.Message{}, false
}
