package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTranscripts implements TranscriptStore over a JSONB document
// table: one row per conversation, the whole transcript as a single blob.
// The transcript is schema-flexible and potentially large, so it is read
// and written in one piece rather than normalized into rows.
//
// PostgresTranscripts is safe for concurrent use; per-conversation write
// ordering is the orchestrator's responsibility (it holds the conversation
// lock across read-modify-write).
type PostgresTranscripts struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresTranscripts creates a PostgresTranscripts store.
func NewPostgresTranscripts(pool *pgxpool.Pool, logger *slog.Logger) *PostgresTranscripts {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTranscripts{pool: pool, logger: logger}
}

// Get point-reads the transcript document by conversation identity.
func (s *PostgresTranscripts) Get(ctx context.Context, id uuid.UUID) (*Transcript, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM transcripts WHERE conversation_id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading transcript %s: %w", id, err)
	}

	transcript := &Transcript{}
	if err := json.Unmarshal(doc, transcript); err != nil {
		return nil, fmt.Errorf("unmarshaling transcript %s: %w", id, err)
	}
	return transcript, nil
}

// Put writes the whole transcript document, inserting on first use.
func (s *PostgresTranscripts) Put(ctx context.Context, transcript *Transcript) error {
	doc, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("marshaling transcript %s: %w", transcript.ConversationID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transcripts (conversation_id, document)
		VALUES ($1, $2)
		ON CONFLICT (conversation_id) DO UPDATE
		SET document = EXCLUDED.document, updated_at = now()`,
		transcript.ConversationID, doc)
	if err != nil {
		return fmt.Errorf("writing transcript %s: %w", transcript.ConversationID, err)
	}

	s.logger.Debug("wrote transcript",
		"conversation_id", transcript.ConversationID,
		"turns", len(transcript.Turns))
	return nil
}
