package memory

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"signalgate/internal/domain"
)

const account = "+64270000000"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestStore_MessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgs := []domain.Message{
		{SenderNumber: "+64275263733", DeviceID: 1, Timestamp: 1511746018074, IsReceipt: true},
		{SenderNumber: "+64275263733", DeviceID: 1, Timestamp: 1511746101590,
			MessageTimestamp: ptr(int64(1511746101590)), Body: ptr("Hddhfjfjfjfjffigf")},
		{SenderNumber: "+64211111111", DeviceID: 3, Timestamp: 1511746200000, Body: ptr("")},
	}
	if err := s.SaveMessages(ctx, account, msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	got, err := s.RecentMessages(ctx, account, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	for i, sm := range got {
		if sm.ID == "" || sm.Account != account {
			t.Errorf("[%d] id=%q account=%q", i, sm.ID, sm.Account)
		}
		want := msgs[i]
		m := sm.Message
		if m.SenderNumber != want.SenderNumber || m.DeviceID != want.DeviceID ||
			m.Timestamp != want.Timestamp || m.IsReceipt != want.IsReceipt {
			t.Errorf("[%d] = %+v, want %+v", i, m, want)
		}
		if (m.Body == nil) != (want.Body == nil) || m.Text() != want.Text() {
			t.Errorf("[%d] body = %v, want %v", i, m.Body, want.Body)
		}
		if (m.MessageTimestamp == nil) != (want.MessageTimestamp == nil) {
			t.Errorf("[%d] message timestamp = %v", i, m.MessageTimestamp)
		}
	}
}

func TestStore_SaveMessagesDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	msg := domain.Message{SenderNumber: "+1", DeviceID: 1, Timestamp: 42, Body: ptr("hi")}

	for range 2 {
		if err := s.SaveMessages(ctx, account, []domain.Message{msg}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.RecentMessages(ctx, account, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 stored message, got %d", len(got))
	}

	other, _ := s.RecentMessages(ctx, "+999", 10)
	if len(other) != 0 {
		t.Errorf("messages leaked across accounts: %+v", other)
	}
}

func TestStore_RecentMessagesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var msgs []domain.Message
	for i := range 5 {
		msgs = append(msgs, domain.Message{SenderNumber: "+1", DeviceID: 1, Timestamp: int64(100 + i), Body: ptr("x")})
	}
	if err := s.SaveMessages(ctx, account, msgs); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentMessages(ctx, account, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message.Timestamp != 103 || got[1].Message.Timestamp != 104 {
		t.Errorf("got %+v", got)
	}
}

func TestStore_IdentitiesUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	added := time.Date(2017, 11, 27, 1, 26, 58, 0, time.UTC)
	id := domain.Identity{
		Number:       "+64275263733",
		TrustStatus:  domain.TrustedUnverified,
		Added:        "Mon Nov 27 01:26:58 UTC 2017",
		AddedAt:      added,
		Fingerprint:  "05 1a 2b",
		SafetyNumber: "12345 67890",
	}
	if err := s.SaveIdentities(ctx, account, []domain.Identity{id}); err != nil {
		t.Fatal(err)
	}
	id.TrustStatus = domain.TrustedVerified
	if err := s.SaveIdentities(ctx, account, []domain.Identity{id}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestIdentities(ctx, account)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 identity, got %d", len(got))
	}
	g := got[0]
	if g.TrustStatus != domain.TrustedVerified || g.Added != id.Added ||
		g.Fingerprint != id.Fingerprint || g.SafetyNumber != id.SafetyNumber {
		t.Errorf("identity = %+v", g)
	}
	if !g.AddedAt.Equal(added) {
		t.Errorf("added at = %v, want %v", g.AddedAt, added)
	}
}

func TestStore_Sends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := domain.SendRecord{
		Account: account, Recipients: []string{"+1", "+2"}, Body: "hello",
		SentAt: base, VerifyReceipt: true, Confirmed: true, ReceiptTimestamp: base.UnixMilli() + 300,
	}
	second := domain.SendRecord{
		Account: account, Recipients: []string{"+3"}, Body: "pic",
		Attachments: []string{"/tmp/a.png"}, SentAt: base.Add(time.Minute),
		VerifyReceipt: true, Error: "delivery receipt not found after 10 receive attempts",
	}
	for _, rec := range []domain.SendRecord{first, second} {
		if err := s.RecordSend(ctx, rec); err != nil {
			t.Fatalf("RecordSend: %v", err)
		}
	}

	got, err := s.RecentSends(ctx, account, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(got))
	}
	if got[0].Body != "pic" || !slices.Equal(got[0].Attachments, []string{"/tmp/a.png"}) || got[0].Error == "" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].ID == "" || !got[1].Confirmed || got[1].ReceiptTimestamp != first.ReceiptTimestamp {
		t.Errorf("oldest = %+v", got[1])
	}
	if !slices.Equal(got[1].Recipients, first.Recipients) || len(got[1].Attachments) != 0 {
		t.Errorf("oldest recipients/attachments = %v / %v", got[1].Recipients, got[1].Attachments)
	}
	if !got[1].SentAt.Equal(base) {
		t.Errorf("sent at = %v", got[1].SentAt)
	}
}
