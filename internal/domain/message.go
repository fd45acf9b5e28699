package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Message is one inbound event from signal-cli: a delivery receipt, a
// content-bearing message, or a bare envelope carrying neither.
// IsReceipt and Body != nil are never both set.
type Message struct {
	SenderNumber     string  `json:"sender_number"`
	DeviceID         int     `json:"device_id"`
	Timestamp        int64   `json:"timestamp"`                   // envelope arrival, ms since epoch
	MessageTimestamp *int64  `json:"message_timestamp,omitempty"` // composition time, body-bearing records only
	IsReceipt        bool    `json:"is_receipt"`
	Body             *string `json:"body,omitempty"`
}

// HasBody reports whether the message carries user content.
func (m Message) HasBody() bool { return m.Body != nil }

// Text returns the body, or "" for receipts and bare envelopes.
func (m Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// ArrivedAt converts the envelope timestamp to a time.Time.
func (m Message) ArrivedAt() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

// TrustStatus is the trust state signal-cli reports for an identity key.
type TrustStatus string

const (
	Untrusted         TrustStatus = "UNTRUSTED"
	TrustedUnverified TrustStatus = "TRUSTED_UNVERIFIED"
	TrustedVerified   TrustStatus = "TRUSTED_VERIFIED"
)

// ParseTrustStatus maps the listing keyword to a TrustStatus.
func ParseTrustStatus(s string) (TrustStatus, error) {
	switch TrustStatus(s) {
	case Untrusted, TrustedUnverified, TrustedVerified:
		return TrustStatus(s), nil
	}
	return "", fmt.Errorf("unknown trust status %q", s)
}

const (
	FingerprintGroups  = 33
	SafetyNumberGroups = 12
)

// Fingerprint is an identity key fingerprint as printed by signal-cli:
// 33 space-separated two-digit hex groups.
type Fingerprint string

// Bytes decodes the fingerprint into its 33 raw bytes.
func (f Fingerprint) Bytes() ([]byte, error) {
	groups := strings.Fields(string(f))
	if len(groups) != FingerprintGroups {
		return nil, fmt.Errorf("fingerprint has %d groups, want %d", len(groups), FingerprintGroups)
	}
	b, err := hex.DecodeString(strings.Join(groups, ""))
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	return b, nil
}

// SafetyNumber is the human-verifiable safety number: 12 five-digit groups.
type SafetyNumber string

// Groups splits the safety number into its five-digit groups.
func (s SafetyNumber) Groups() []string {
	return strings.Fields(string(s))
}

// Digits returns the safety number with the group separators removed, the
// form signal-cli's trust command expects.
func (s SafetyNumber) Digits() string {
	return strings.Join(s.Groups(), "")
}

// Identity is one trust-state entry for a correspondent.
type Identity struct {
	Number       string       `json:"number"`
	TrustStatus  TrustStatus  `json:"trust_status"`
	Added        string       `json:"added"`             // verbatim "Added:" field
	AddedAt      time.Time    `json:"added_at,omitzero"` // zero when Added does not parse or its zone is unresolvable
	Fingerprint  Fingerprint  `json:"fingerprint"`
	SafetyNumber SafetyNumber `json:"safety_number"`
}
