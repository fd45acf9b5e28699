package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"signalgate/internal/domain"
)

// SQLiteStore implements domain.MessageStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.MessageStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// SaveMessages stores msgs, ignoring envelopes already stored for account.
func (s *SQLiteStore) SaveMessages(ctx context.Context, account string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO messages
		 (id, account, sender, device_id, timestamp, message_timestamp, is_receipt, body, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, m := range msgs {
		var msgTS sql.NullInt64
		if m.MessageTimestamp != nil {
			msgTS = sql.NullInt64{Int64: *m.MessageTimestamp, Valid: true}
		}
		var body sql.NullString
		if m.Body != nil {
			body = sql.NullString{String: *m.Body, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), account, m.SenderNumber, m.DeviceID, m.Timestamp, msgTS, m.IsReceipt, body, now,
		); err != nil {
			return fmt.Errorf("insert message from %s: %w", m.SenderNumber, err)
		}
	}
	return tx.Commit()
}

// RecentMessages returns the last limit messages for account, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, account string, limit int) ([]domain.StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account, sender, device_id, timestamp, message_timestamp, is_receipt, body, received_at
		 FROM messages WHERE account = ?
		 ORDER BY received_at DESC, timestamp DESC LIMIT ?`, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StoredMessage
	for rows.Next() {
		var sm domain.StoredMessage
		var msgTS sql.NullInt64
		var body sql.NullString
		if err := rows.Scan(&sm.ID, &sm.Account, &sm.Message.SenderNumber, &sm.Message.DeviceID,
			&sm.Message.Timestamp, &msgTS, &sm.Message.IsReceipt, &body, &sm.ReceivedAt); err != nil {
			return nil, err
		}
		if msgTS.Valid {
			sm.Message.MessageTimestamp = &msgTS.Int64
		}
		if body.Valid {
			sm.Message.Body = &body.String
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// SaveIdentities upserts an identity snapshot; a changed trust status
// overwrites the stored one.
func (s *SQLiteStore) SaveIdentities(ctx context.Context, account string, ids []domain.Identity) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		var addedAt sql.NullTime
		if !id.AddedAt.IsZero() {
			addedAt = sql.NullTime{Time: id.AddedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identities (account, number, fingerprint, trust_status, added, safety_number, seen_at, added_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(account, number, fingerprint) DO UPDATE SET
			   trust_status = excluded.trust_status,
			   safety_number = excluded.safety_number,
			   seen_at = excluded.seen_at`,
			account, id.Number, string(id.Fingerprint), string(id.TrustStatus), id.Added,
			string(id.SafetyNumber), now, addedAt,
		); err != nil {
			return fmt.Errorf("upsert identity %s: %w", id.Number, err)
		}
	}
	return tx.Commit()
}

// LatestIdentities returns every stored identity for account, by number.
func (s *SQLiteStore) LatestIdentities(ctx context.Context, account string) ([]domain.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, trust_status, added, added_at, fingerprint, safety_number
		 FROM identities WHERE account = ?
		 ORDER BY number, seen_at`, account,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		var id domain.Identity
		var status, fp, sn string
		var addedAt sql.NullTime
		if err := rows.Scan(&id.Number, &status, &id.Added, &addedAt, &fp, &sn); err != nil {
			return nil, err
		}
		id.TrustStatus = domain.TrustStatus(status)
		id.Fingerprint = domain.Fingerprint(fp)
		id.SafetyNumber = domain.SafetyNumber(sn)
		if addedAt.Valid {
			id.AddedAt = addedAt.Time
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordSend stores rec, assigning an ID when it has none.
func (s *SQLiteStore) RecordSend(ctx context.Context, rec domain.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	recipients, err := json.Marshal(rec.Recipients)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(rec.Attachments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sends (id, account, recipients, body, attachments, sent_at, verify_receipt, confirmed, receipt_timestamp, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Account, string(recipients), rec.Body, string(attachments), rec.SentAt.UTC(),
		rec.VerifyReceipt, rec.Confirmed, rec.ReceiptTimestamp, rec.Error,
	)
	return err
}

// RecentSends returns the last limit sends for account, newest first.
func (s *SQLiteStore) RecentSends(ctx context.Context, account string, limit int) ([]domain.SendRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account, recipients, body, attachments, sent_at, verify_receipt, confirmed, receipt_timestamp, error
		 FROM sends WHERE account = ?
		 ORDER BY sent_at DESC LIMIT ?`, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SendRecord
	for rows.Next() {
		var rec domain.SendRecord
		var recipients, attachments string
		if err := rows.Scan(&rec.ID, &rec.Account, &recipients, &rec.Body, &attachments, &rec.SentAt,
			&rec.VerifyReceipt, &rec.Confirmed, &rec.ReceiptTimestamp, &rec.Error); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(recipients), &rec.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of send %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(attachments), &rec.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of send %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
