package domain

import (
	"context"
	"time"
)

// MessageStore persists what the client receives and sends. The client
// itself keeps no history.
type MessageStore interface {
	SaveMessages(ctx context.Context, account string, msgs []Message) error
	RecentMessages(ctx context.Context, account string, limit int) ([]StoredMessage, error)

	SaveIdentities(ctx context.Context, account string, ids []Identity) error
	LatestIdentities(ctx context.Context, account string) ([]Identity, error)

	RecordSend(ctx context.Context, rec SendRecord) error
	RecentSends(ctx context.Context, account string, limit int) ([]SendRecord, error)

	Close() error
}

type StoredMessage struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Message    Message   `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

type SendRecord struct {
	ID               string    `json:"id"`
	Account          string    `json:"account"`
	Recipients       []string  `json:"recipients"`
	Body             string    `json:"body"`
	Attachments      []string  `json:"attachments,omitempty"`
	SentAt           time.Time `json:"sent_at"`
	VerifyReceipt    bool      `json:"verify_receipt"`
	Confirmed        bool      `json:"confirmed"`
	ReceiptTimestamp int64     `json:"receipt_timestamp,omitempty"`
	Error            string    `json:"error,omitempty"`
}
