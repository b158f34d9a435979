// Package sqlite implements storage.Repository on an embedded SQLite
// database for the lite deployment profile (single node, no external
// dependencies).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/storage"
)

// Store implements storage.Repository on top of database/sql with the
// modernc.org/sqlite driver.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// New opens (creating if necessary) the SQLite database at path, enables
// WAL mode and foreign keys, and initializes the schema. path must not
// contain ".." and must not fall under a handful of system directories.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlite path must not contain '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("sqlite path may not live under %s: %s", prefix, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create sqlite data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to restrict sqlite file permissions", "path", path, "error", err)
	}

	logger.Info("sqlite storage initialized", "path", path, "wal_mode", true)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	first_seen TIMESTAMP NOT NULL,
	last_seen  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id                  TEXT PRIMARY KEY,
	session_id          TEXT NOT NULL REFERENCES sessions(id),
	created_at          TIMESTAMP NOT NULL,
	updated_at          TIMESTAMP NOT NULL,
	escalated           INTEGER NOT NULL DEFAULT 0,
	escalation_category TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	conversation_id     TEXT NOT NULL REFERENCES conversations(id),
	role                TEXT NOT NULL,
	content             TEXT NOT NULL,
	created_at          TIMESTAMP NOT NULL,
	flagged             INTEGER NOT NULL DEFAULT 0,
	moderation_log_id   TEXT NOT NULL DEFAULT '',
	response_time_ms    INTEGER,
	token_count         INTEGER,
	canceled            INTEGER NOT NULL DEFAULT 0,
	moderation_skipped  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS moderation_logs (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	categories TEXT NOT NULL,
	scores     TEXT NOT NULL,
	flagged    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moderation_logs_message ON moderation_logs(message_id);

CREATE TABLE IF NOT EXISTS safety_rules (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	category    TEXT NOT NULL,
	value       TEXT NOT NULL,
	action      TEXT NOT NULL,
	priority    INTEGER NOT NULL DEFAULT 0,
	enabled     INTEGER NOT NULL DEFAULT 1,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS moderation_settings (
	category  TEXT PRIMARY KEY,
	enabled   INTEGER NOT NULL DEFAULT 1,
	threshold REAL NOT NULL DEFAULT 0.5,
	action    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS escalation_settings (
	category          TEXT PRIMARY KEY,
	enabled           INTEGER NOT NULL DEFAULT 1,
	keywords          TEXT NOT NULL DEFAULT '[]',
	response_template TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS system_settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS knowledge_docs (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	keywords   TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMP NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return nil
}

func (s *Store) GetOrCreateSession(ctx context.Context, id string) (domain.Session, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Session{}, err
	}
	defer tx.Rollback()

	var firstSeen time.Time
	err = tx.QueryRowContext(ctx, `SELECT first_seen FROM sessions WHERE id = ?`, id).Scan(&firstSeen)
	switch {
	case err == sql.ErrNoRows:
		firstSeen = now
		if _, err := tx.ExecContext(ctx, `INSERT INTO sessions (id, first_seen, last_seen) VALUES (?, ?, ?)`, id, now, now); err != nil {
			return domain.Session{}, fmt.Errorf("insert session: %w", err)
		}
	case err != nil:
		return domain.Session{}, fmt.Errorf("lookup session: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET last_seen = ? WHERE id = ?`, now, id); err != nil {
			return domain.Session{}, fmt.Errorf("touch session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Session{}, err
	}
	return domain.Session{ID: id, FirstSeen: firstSeen, LastSeen: now}, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, session_id, created_at, updated_at, escalated, escalation_category) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.SessionID, conv.CreatedAt, conv.UpdatedAt, conv.Escalated, conv.EscalationCategory)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.SessionID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Escalated, &conv.EscalationCategory)
	if err == sql.ErrNoRows {
		return domain.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversationsBySession(ctx context.Context, sessionID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.SessionID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Escalated, &conv.EscalationCategory); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) MarkEscalated(ctx context.Context, conversationID, category string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET escalated = 1, escalation_category = ?, updated_at = ? WHERE id = ? AND escalated = 0`,
		category, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("mark conversation escalated: %w", err)
	}
	// affected==0 means either the conversation doesn't exist or it was
	// already escalated; the latter is a no-op per the invariant, and we
	// can't cheaply distinguish the two without another query, so we don't.
	_, _ = res.RowsAffected()
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt, msg.Flagged, msg.ModerationLogID,
		msg.ResponseTimeMs, msg.TokenCount, msg.Canceled, msg.ModerationSkipped)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

func (s *Store) AppendMessageWithModerationLog(ctx context.Context, msg domain.Message, log *domain.ModerationLog, esc *storage.EscalationUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt, msg.Flagged, msg.ModerationLogID,
		msg.ResponseTimeMs, msg.TokenCount, msg.Canceled, msg.ModerationSkipped)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if log != nil {
		categories, err := json.Marshal(log.Categories)
		if err != nil {
			return fmt.Errorf("marshal moderation categories: %w", err)
		}
		scores, err := json.Marshal(log.Scores)
		if err != nil {
			return fmt.Errorf("marshal moderation scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO moderation_logs (id, message_id, categories, scores, flagged, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			log.ID, log.MessageID, string(categories), string(scores), log.Flagged, log.CreatedAt); err != nil {
			return fmt.Errorf("insert moderation log: %w", err)
		}
	}

	if esc != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET escalated = 1, escalation_category = ?, updated_at = ? WHERE id = ? AND escalated = 0`,
			esc.Category, msg.CreatedAt, esc.ConversationID); err != nil {
			return fmt.Errorf("mark conversation escalated: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped
		 FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return domain.Message{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt, &msg.Flagged,
		&msg.ModerationLogID, &msg.ResponseTimeMs, &msg.TokenCount, &msg.Canceled, &msg.ModerationSkipped)
	return msg, err
}

func (s *Store) CreateModerationLog(ctx context.Context, log domain.ModerationLog) error {
	categories, err := json.Marshal(log.Categories)
	if err != nil {
		return fmt.Errorf("marshal moderation categories: %w", err)
	}
	scores, err := json.Marshal(log.Scores)
	if err != nil {
		return fmt.Errorf("marshal moderation scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO moderation_logs (id, message_id, categories, scores, flagged, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.MessageID, string(categories), string(scores), log.Flagged, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert moderation log: %w", err)
	}
	return nil
}

func (s *Store) ListModerationLogs(ctx context.Context, limit int) ([]domain.ModerationLog, error) {
	query := `SELECT id, message_id, categories, scores, flagged, created_at FROM moderation_logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list moderation logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ModerationLog, 0)
	for rows.Next() {
		var log domain.ModerationLog
		var categories, scores string
		if err := rows.Scan(&log.ID, &log.MessageID, &categories, &scores, &log.Flagged, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation log: %w", err)
		}
		if err := json.Unmarshal([]byte(categories), &log.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal moderation categories for %s: %w", log.ID, err)
		}
		if err := json.Unmarshal([]byte(scores), &log.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal moderation scores for %s: %w", log.ID, err)
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *Store) ListEscalatedConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	query := `SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE escalated = 1 ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalated conversations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.SessionID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Escalated, &conv.EscalationCategory); err != nil {
			return nil, fmt.Errorf("scan escalated conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) LoadRules(ctx context.Context) ([]domain.SafetyRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, category, value, action, priority, enabled, description FROM safety_rules`)
	if err != nil {
		return nil, fmt.Errorf("load safety rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SafetyRule, 0)
	for rows.Next() {
		var r domain.SafetyRule
		if err := rows.Scan(&r.ID, &r.Type, &r.Category, &r.Value, &r.Action, &r.Priority, &r.Enabled, &r.Description); err != nil {
			return nil, fmt.Errorf("scan safety rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LoadModerationSettings(ctx context.Context) ([]domain.ModerationSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, enabled, threshold, action FROM moderation_settings`)
	if err != nil {
		return nil, fmt.Errorf("load moderation settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ModerationSetting, 0)
	for rows.Next() {
		var m domain.ModerationSetting
		if err := rows.Scan(&m.Category, &m.Enabled, &m.Threshold, &m.Action); err != nil {
			return nil, fmt.Errorf("scan moderation setting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LoadEscalationSettings(ctx context.Context) ([]domain.EscalationSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, enabled, keywords, response_template, priority FROM escalation_settings`)
	if err != nil {
		return nil, fmt.Errorf("load escalation settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EscalationSetting, 0)
	for rows.Next() {
		var e domain.EscalationSetting
		var keywords string
		if err := rows.Scan(&e.Category, &e.Enabled, &keywords, &e.ResponseTemplate, &e.Priority); err != nil {
			return nil, fmt.Errorf("scan escalation setting: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal escalation keywords for %s: %w", e.Category, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LoadSystemSettings(ctx context.Context) ([]domain.SystemSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, description FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("load system settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SystemSetting, 0)
	for rows.Next() {
		var sys domain.SystemSetting
		var value string
		if err := rows.Scan(&sys.Key, &value, &sys.Description); err != nil {
			return nil, fmt.Errorf("scan system setting: %w", err)
		}
		sys.Value = []byte(value)
		out = append(out, sys)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRule(ctx context.Context, rule domain.SafetyRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO safety_rules (id, type, category, value, action, priority, enabled, description) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET type=excluded.type, category=excluded.category, value=excluded.value,
		   action=excluded.action, priority=excluded.priority, enabled=excluded.enabled, description=excluded.description`,
		rule.ID, rule.Type, rule.Category, rule.Value, rule.Action, rule.Priority, rule.Enabled, rule.Description)
	if err != nil {
		return fmt.Errorf("upsert safety rule: %w", err)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM safety_rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete safety rule: %w", err)
	}
	return nil
}

func (s *Store) UpsertModerationSetting(ctx context.Context, setting domain.ModerationSetting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO moderation_settings (category, enabled, threshold, action) VALUES (?, ?, ?, ?)
		 ON CONFLICT(category) DO UPDATE SET enabled=excluded.enabled, threshold=excluded.threshold, action=excluded.action`,
		setting.Category, setting.Enabled, setting.Threshold, setting.Action)
	if err != nil {
		return fmt.Errorf("upsert moderation setting: %w", err)
	}
	return nil
}

func (s *Store) UpsertEscalationSetting(ctx context.Context, setting domain.EscalationSetting) error {
	keywords, err := json.Marshal(setting.Keywords)
	if err != nil {
		return fmt.Errorf("marshal escalation keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO escalation_settings (category, enabled, keywords, response_template, priority) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(category) DO UPDATE SET enabled=excluded.enabled, keywords=excluded.keywords,
		   response_template=excluded.response_template, priority=excluded.priority`,
		setting.Category, setting.Enabled, string(keywords), setting.ResponseTemplate, setting.Priority)
	if err != nil {
		return fmt.Errorf("upsert escalation setting: %w", err)
	}
	return nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, setting domain.SystemSetting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, description) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, description=excluded.description`,
		setting.Key, string(setting.Value), setting.Description)
	if err != nil {
		return fmt.Errorf("upsert system setting: %w", err)
	}
	return nil
}

func (s *Store) LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, category, content, keywords, updated_at FROM knowledge_docs`)
	if err != nil {
		return nil, fmt.Errorf("load knowledge docs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.KnowledgeDoc, 0)
	for rows.Next() {
		doc, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge doc: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func scanKnowledgeDoc(row rowScanner) (domain.KnowledgeDoc, error) {
	var doc domain.KnowledgeDoc
	var keywords string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Category, &doc.Content, &keywords, &doc.UpdatedAt); err != nil {
		return domain.KnowledgeDoc{}, err
	}
	if err := json.Unmarshal([]byte(keywords), &doc.Keywords); err != nil {
		return domain.KnowledgeDoc{}, fmt.Errorf("unmarshal keywords for %s: %w", doc.ID, err)
	}
	return doc, nil
}

func (s *Store) UpsertKnowledgeDoc(ctx context.Context, doc domain.KnowledgeDoc) error {
	keywords, err := json.Marshal(doc.Keywords)
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_docs (id, title, category, content, keywords, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, category=excluded.category, content=excluded.content,
		   keywords=excluded.keywords, updated_at=excluded.updated_at`,
		doc.ID, doc.Title, doc.Category, doc.Content, string(keywords), doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert knowledge doc: %w", err)
	}
	return nil
}

func (s *Store) DeleteKnowledgeDoc(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_docs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete knowledge doc: %w", err)
	}
	return nil
}

func (s *Store) BulkImportKnowledgeDocs(ctx context.Context, docs []domain.KnowledgeDoc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_docs`); err != nil {
		return fmt.Errorf("clear knowledge docs: %w", err)
	}
	for _, doc := range docs {
		keywords, err := json.Marshal(doc.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords for %s: %w", doc.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_docs (id, title, category, content, keywords, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			doc.ID, doc.Title, doc.Category, doc.Content, string(keywords), doc.UpdatedAt); err != nil {
			return fmt.Errorf("insert knowledge doc %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// FileSize returns the current on-disk size of the database file, for the
// admin health endpoint's storage diagnostics.
func (s *Store) FileSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

var _ storage.Repository = (*Store)(nil)
