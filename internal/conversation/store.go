package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists conversations and messages in PostgreSQL.
// Safe for concurrent use; per-conversation message appends rely on the
// database's own insert ordering, no application-level locking.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store backed by the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Conversation retrieves a conversation by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, metadata, message_count, created_at, updated_at
		FROM conversations
		WHERE id = $1`,
		toPgUUID(id))

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

// CreateIfAbsent inserts the conversation if no row with its id exists.
// Returns created=false when the conversation was already present,
// including when a concurrent request inserted it first. The race
// tolerance is part of the contract: two first-turn requests racing on
// the same caller-supplied id both succeed, one with created=true and
// one with created=false, and neither sees a duplicate-key error.
func (s *Store) CreateIfAbsent(ctx context.Context, conv *Conversation) (bool, error) {
	metadata, err := marshalMetadata(conv.Metadata)
	if err != nil {
		return false, fmt.Errorf("encoding conversation metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner_id, title, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		toPgUUID(conv.ID), conv.OwnerID, conv.Title, metadata)
	if err != nil {
		// ON CONFLICT covers the id race; a unique violation can still
		// surface from other constraints under concurrent inserts. Treat
		// it as "already created" per the idempotent-create contract.
		if isUniqueViolation(err) {
			s.logger.Debug("concurrent conversation creation detected",
				"conversation_id", conv.ID)
			return false, nil
		}
		return false, fmt.Errorf("creating conversation %s: %w", conv.ID, err)
	}

	created := tag.RowsAffected() == 1
	if created {
		s.logger.Debug("created conversation", "conversation_id", conv.ID, "owner_id", conv.OwnerID)
	}
	return created, nil
}

// AddMessage appends a message to a conversation and bumps the
// conversation's updated_at and message_count atomically. Messages are
// append-only; nothing is ever rewritten.
func (s *Store) AddMessage(ctx context.Context, conversationID uuid.UUID, role, content string, metadata map[string]any) (*Message, error) {
	encoded, err := marshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding message metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		toPgUUID(conversationID), role, content, encoded).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations
		SET updated_at = now(), message_count = message_count + 1
		WHERE id = $1`,
		toPgUUID(conversationID)); err != nil {
		return nil, fmt.Errorf("updating conversation metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("added message",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"role", role)
	return msg, nil
}

// Messages returns a page of messages for a conversation, ordered by
// creation time ascending (insertion order for same-timestamp rows).
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	limit = NormalizeLimit(limit)

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, metadata, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		toPgUUID(conversationID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// CountMessages returns the number of messages in a conversation.
func (s *Store) CountMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`,
		toPgUUID(conversationID)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", conversationID, err)
	}
	return count, nil
}

// scanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		conv     Conversation
		id       pgtype.UUID
		metadata []byte
	)
	if err := row.Scan(&id, &conv.OwnerID, &conv.Title, &metadata,
		&conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.ID = fromPgUUID(id)
	if err := unmarshalMetadata(metadata, &conv.Metadata); err != nil {
		return nil, err
	}
	return &conv, nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg      Message
		id       pgtype.UUID
		convID   pgtype.UUID
		metadata []byte
	)
	if err := row.Scan(&id, &convID, &msg.Role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	msg.ID = fromPgUUID(id)
	msg.ConversationID = fromPgUUID(convID)
	if err := unmarshalMetadata(metadata, &msg.Metadata); err != nil {
		return nil, err
	}
	return &msg, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		*dst = map[string]any{}
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
