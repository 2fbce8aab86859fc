package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements RelationalStore on a pgx connection pool.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Create inserts a new conversation row and fills in the generated
// timestamps and initial version.
func (s *PostgresStore) Create(ctx context.Context, conv *Conversation) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, owner_id, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at, version`,
		conv.ID, conv.OwnerID, conv.Name)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt, &conv.Version); err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// Get fetches an active conversation scoped to its owner.
func (s *PostgresStore) Get(ctx context.Context, ownerID string, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{}
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, input_tokens, output_tokens,
		       created_at, updated_at, deactivated_at, version
		FROM conversations
		WHERE id = $1 AND owner_id = $2 AND deactivated_at IS NULL`,
		id, ownerID)
	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Name,
		&conv.InputTokens, &conv.OutputTokens,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.DeactivatedAt, &conv.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting conversation %s: %w", id, err)
	}
	return conv, nil
}

// Rename updates the display name.
func (s *PostgresStore) Rename(ctx context.Context, id uuid.UUID, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET name = $2, updated_at = now()
		WHERE id = $1 AND deactivated_at IS NULL`,
		id, name)
	if err != nil {
		return fmt.Errorf("renaming conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddUsage atomically increments both token counters. The version predicate
// implements optimistic concurrency: a mismatch means another writer got in
// between Load and commit, which the per-conversation lock should prevent.
// ErrConflict flags a serialization bug rather than a routine condition.
func (s *PostgresStore) AddUsage(ctx context.Context, id uuid.UUID, version int64, delta Usage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET input_tokens = input_tokens + $2,
		    output_tokens = output_tokens + $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $4 AND deactivated_at IS NULL`,
		id, delta.InputTokens, delta.OutputTokens, version)
	if err != nil {
		return fmt.Errorf("incrementing counters for %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a stale version from a vanished row.
	var exists bool
	if err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversations WHERE id = $1 AND deactivated_at IS NULL
		)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking conversation %s: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// Deactivate soft-deletes one conversation. Already-deactivated rows are
// left untouched (never resurrected, never re-stamped).
func (s *PostgresStore) Deactivate(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET deactivated_at = now(), updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND deactivated_at IS NULL`,
		id, ownerID)
	if err != nil {
		return fmt.Errorf("deactivating conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAll soft-deletes every active conversation owned by ownerID.
func (s *PostgresStore) DeactivateAll(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET deactivated_at = now(), updated_at = now()
		WHERE owner_id = $1 AND deactivated_at IS NULL`,
		ownerID)
	if err != nil {
		return 0, fmt.Errorf("deactivating conversations for %s: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}

// List returns the owner's active conversations ordered by last update.
func (s *PostgresStore) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, input_tokens, output_tokens,
		       created_at, updated_at, deactivated_at, version
		FROM conversations
		WHERE owner_id = $1 AND deactivated_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Name,
			&conv.InputTokens, &conv.OutputTokens,
			&conv.CreatedAt, &conv.UpdatedAt, &conv.DeactivatedAt, &conv.Version); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return convs, nil
}
