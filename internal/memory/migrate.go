package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order, each exactly once, tracked in the
// schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: messages, identities",
		SQL: `
		CREATE TABLE IF NOT EXISTS messages (
			id                TEXT PRIMARY KEY,
			account           TEXT NOT NULL,
			sender            TEXT NOT NULL,
			device_id         INTEGER NOT NULL,
			timestamp         INTEGER NOT NULL,
			message_timestamp INTEGER,
			is_receipt        INTEGER NOT NULL DEFAULT 0,
			body              TEXT,
			received_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(account, sender, device_id, timestamp, is_receipt)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account, received_at);

		CREATE TABLE IF NOT EXISTS identities (
			account       TEXT NOT NULL,
			number        TEXT NOT NULL,
			fingerprint   TEXT NOT NULL,
			trust_status  TEXT NOT NULL,
			added         TEXT NOT NULL,
			safety_number TEXT NOT NULL,
			seen_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(account, number, fingerprint)
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: send log",
		SQL: `
		CREATE TABLE IF NOT EXISTS sends (
			id                TEXT PRIMARY KEY,
			account           TEXT NOT NULL,
			recipients        TEXT NOT NULL,
			body              TEXT NOT NULL,
			attachments       TEXT DEFAULT '[]',
			sent_at           DATETIME NOT NULL,
			verify_receipt    INTEGER NOT NULL DEFAULT 0,
			confirmed         INTEGER NOT NULL DEFAULT 0,
			receipt_timestamp INTEGER DEFAULT 0,
			error             TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sends_account ON sends(account, sent_at);
		`,
	},
	{
		Version:     3,
		Description: "v3: identity added_at",
		SQL: `
		ALTER TABLE identities ADD COLUMN added_at DATETIME;
		`,
	},
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		if err := applyMigration(db, m); err != nil {
			// ALTER TABLE ADD COLUMN fails when an older build already added
			// the column; retry statement by statement and skip those.
			logger.Warn("migration failed as a unit, retrying per statement", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if err := recordVersion(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.SQL) {
		if _, err := db.Exec(stmt); err != nil {
			if isAlreadyApplied(err) {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}
	return recordVersion(db, m)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func recordVersion(db execer, m migration) error {
	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// splitSQL splits a multi-statement script on semicolons, dropping empties.
func splitSQL(script string) []string {
	var out []string
	for stmt := range strings.SplitSeq(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the applied schema version, 0 for a fresh file.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
