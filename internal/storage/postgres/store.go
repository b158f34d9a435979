// Package postgres implements storage.Repository on PostgreSQL via pgx for
// the standard deployment profile.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/romanbabin/convogate/internal/domain"
	"github.com/romanbabin/convogate/internal/storage"
)

// Store implements storage.Repository against a pgxpool.Pool. Schema is
// managed externally by goose migrations, not by this package.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an already-connected pool. The caller owns the pool's lifecycle
// except that Close also closes the pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) GetOrCreateSession(ctx context.Context, id string) (domain.Session, error) {
	now := time.Now()
	var firstSeen time.Time

	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, first_seen, last_seen) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO UPDATE SET last_seen = $2
		 RETURNING first_seen`,
		id, now).Scan(&firstSeen)
	if err != nil {
		return domain.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return domain.Session{ID: id, FirstSeen: firstSeen, LastSeen: now}, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, session_id, created_at, updated_at, escalated, escalation_category) VALUES ($1, $2, $3, $4, $5, $6)`,
		conv.ID, conv.SessionID, conv.CreatedAt, conv.UpdatedAt, conv.Escalated, conv.EscalationCategory)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	var conv domain.Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.SessionID, &conv.CreatedAt, &conv.UpdatedAt, &conv.Escalated, &conv.EscalationCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversationsBySession(ctx context.Context, sessionID string) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
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
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET escalated = true, escalation_category = $1, updated_at = $2 WHERE id = $3 AND escalated = false`,
		category, time.Now(), conversationID)
	if err != nil {
		return fmt.Errorf("mark conversation escalated: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt, msg.Flagged, msg.ModerationLogID,
		msg.ResponseTimeMs, msg.TokenCount, msg.Canceled, msg.ModerationSkipped)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) AppendMessageWithModerationLog(ctx context.Context, msg domain.Message, log *domain.ModerationLog, esc *storage.EscalationUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt, msg.Flagged, msg.ModerationLogID,
		msg.ResponseTimeMs, msg.TokenCount, msg.Canceled, msg.ModerationSkipped)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, msg.ConversationID); err != nil {
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
		if _, err := tx.Exec(ctx,
			`INSERT INTO moderation_logs (id, message_id, categories, scores, flagged, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			log.ID, log.MessageID, categories, scores, log.Flagged, log.CreatedAt); err != nil {
			return fmt.Errorf("insert moderation log: %w", err)
		}
	}

	if esc != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE conversations SET escalated = true, escalation_category = $1, updated_at = $2 WHERE id = $3 AND escalated = false`,
			esc.Category, msg.CreatedAt, esc.ConversationID); err != nil {
			return fmt.Errorf("mark conversation escalated: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetMessage(ctx context.Context, id string) (domain.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped
		 FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at, flagged, moderation_log_id, response_time_ms, token_count, canceled, moderation_skipped
		 FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`, conversationID)
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

func scanMessage(row pgx.Row) (domain.Message, error) {
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO moderation_logs (id, message_id, categories, scores, flagged, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, log.MessageID, categories, scores, log.Flagged, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert moderation log: %w", err)
	}
	return nil
}

func (s *Store) ListModerationLogs(ctx context.Context, limit int) ([]domain.ModerationLog, error) {
	query := `SELECT id, message_id, categories, scores, flagged, created_at FROM moderation_logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list moderation logs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ModerationLog, 0)
	for rows.Next() {
		var log domain.ModerationLog
		var categories, scores []byte
		if err := rows.Scan(&log.ID, &log.MessageID, &categories, &scores, &log.Flagged, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation log: %w", err)
		}
		if err := json.Unmarshal(categories, &log.Categories); err != nil {
			return nil, fmt.Errorf("unmarshal moderation categories for %s: %w", log.ID, err)
		}
		if err := json.Unmarshal(scores, &log.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal moderation scores for %s: %w", log.ID, err)
		}
		out = append(out, log)
	}
	return out, rows.Err()
}

func (s *Store) ListEscalatedConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	query := `SELECT id, session_id, created_at, updated_at, escalated, escalation_category FROM conversations WHERE escalated = true ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
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
	rows, err := s.pool.Query(ctx, `SELECT id, type, category, value, action, priority, enabled, description FROM safety_rules`)
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
	rows, err := s.pool.Query(ctx, `SELECT category, enabled, threshold, action FROM moderation_settings`)
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
	rows, err := s.pool.Query(ctx, `SELECT category, enabled, keywords, response_template, priority FROM escalation_settings`)
	if err != nil {
		return nil, fmt.Errorf("load escalation settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.EscalationSetting, 0)
	for rows.Next() {
		var e domain.EscalationSetting
		if err := rows.Scan(&e.Category, &e.Enabled, &e.Keywords, &e.ResponseTemplate, &e.Priority); err != nil {
			return nil, fmt.Errorf("scan escalation setting: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) LoadSystemSettings(ctx context.Context) ([]domain.SystemSetting, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value, description FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("load system settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SystemSetting, 0)
	for rows.Next() {
		var sys domain.SystemSetting
		if err := rows.Scan(&sys.Key, &sys.Value, &sys.Description); err != nil {
			return nil, fmt.Errorf("scan system setting: %w", err)
		}
		out = append(out, sys)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRule(ctx context.Context, rule domain.SafetyRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO safety_rules (id, type, category, value, action, priority, enabled, description) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET type=excluded.type, category=excluded.category, value=excluded.value,
		   action=excluded.action, priority=excluded.priority, enabled=excluded.enabled, description=excluded.description`,
		rule.ID, rule.Type, rule.Category, rule.Value, rule.Action, rule.Priority, rule.Enabled, rule.Description)
	if err != nil {
		return fmt.Errorf("upsert safety rule: %w", err)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM safety_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete safety rule: %w", err)
	}
	return nil
}

func (s *Store) UpsertModerationSetting(ctx context.Context, setting domain.ModerationSetting) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO moderation_settings (category, enabled, threshold, action) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (category) DO UPDATE SET enabled=excluded.enabled, threshold=excluded.threshold, action=excluded.action`,
		setting.Category, setting.Enabled, setting.Threshold, setting.Action)
	if err != nil {
		return fmt.Errorf("upsert moderation setting: %w", err)
	}
	return nil
}

func (s *Store) UpsertEscalationSetting(ctx context.Context, setting domain.EscalationSetting) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO escalation_settings (category, enabled, keywords, response_template, priority) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (category) DO UPDATE SET enabled=excluded.enabled, keywords=excluded.keywords,
		   response_template=excluded.response_template, priority=excluded.priority`,
		setting.Category, setting.Enabled, setting.Keywords, setting.ResponseTemplate, setting.Priority)
	if err != nil {
		return fmt.Errorf("upsert escalation setting: %w", err)
	}
	return nil
}

func (s *Store) UpsertSystemSetting(ctx context.Context, setting domain.SystemSetting) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_settings (key, value, description) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value=excluded.value, description=excluded.description`,
		setting.Key, setting.Value, setting.Description)
	if err != nil {
		return fmt.Errorf("upsert system setting: %w", err)
	}
	return nil
}

func (s *Store) LoadKnowledgeDocs(ctx context.Context) ([]domain.KnowledgeDoc, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, category, content, keywords, updated_at FROM knowledge_docs`)
	if err != nil {
		return nil, fmt.Errorf("load knowledge docs: %w", err)
	}
	defer rows.Close()

	out := make([]domain.KnowledgeDoc, 0)
	for rows.Next() {
		var doc domain.KnowledgeDoc
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Category, &doc.Content, &doc.Keywords, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge doc: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertKnowledgeDoc(ctx context.Context, doc domain.KnowledgeDoc) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_docs (id, title, category, content, keywords, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET title=excluded.title, category=excluded.category, content=excluded.content,
		   keywords=excluded.keywords, updated_at=excluded.updated_at`,
		doc.ID, doc.Title, doc.Category, doc.Content, doc.Keywords, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert knowledge doc: %w", err)
	}
	return nil
}

func (s *Store) DeleteKnowledgeDoc(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM knowledge_docs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete knowledge doc: %w", err)
	}
	return nil
}

func (s *Store) BulkImportKnowledgeDocs(ctx context.Context, docs []domain.KnowledgeDoc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_docs`); err != nil {
		return fmt.Errorf("clear knowledge docs: %w", err)
	}
	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(
			`INSERT INTO knowledge_docs (id, title, category, content, keywords, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			doc.ID, doc.Title, doc.Category, doc.Content, doc.Keywords, doc.UpdatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for range docs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch insert knowledge docs: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close knowledge doc batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Stats exposes the pool's connection counts for the admin health endpoint.
func (s *Store) Stats() (total, idle, acquired int32) {
	stat := s.pool.Stat()
	return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
}

var _ storage.Repository = (*Store)(nil)
