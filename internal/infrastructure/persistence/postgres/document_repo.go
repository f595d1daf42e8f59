package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// MaxRecent bounds one page of history.
const MaxRecent = 200

// DocumentRepository stores the history of generated documents.
type DocumentRepository struct {
	db Querier
}

// NewDocumentRepository creates a repository on db, usually a *Connection.
func NewDocumentRepository(db Querier) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Record inserts one history entry. Recording the same ID twice is a no-op.
func (r *DocumentRepository) Record(ctx context.Context, rec document.Record) error {
	metadata, err := json.Marshal(nonNil(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO documents (id, type, slug, output_path, metadata, char_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = r.db.Exec(ctx, query,
		rec.ID,
		string(rec.Type),
		rec.Slug,
		rec.OutputPath,
		metadata,
		rec.CharCount,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return shared.WrapError("postgres", "Record", shared.ErrStoreUnavailable, "failed to record document", err)
	}
	return nil
}

// Recent returns the latest entries, newest first. An empty docType
// returns every type.
func (r *DocumentRepository) Recent(ctx context.Context, docType document.Type, limit int) ([]document.Record, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}

	query := `
		SELECT id, type, slug, output_path, metadata, char_count, created_at
		FROM documents
		WHERE ($1 = '' OR type = $1)
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, string(docType), limit)
	if err != nil {
		return nil, shared.WrapError("postgres", "Recent", shared.ErrStoreUnavailable, "failed to query documents", err)
	}
	defer rows.Close()

	var out []document.Record
	for rows.Next() {
		var (
			rec       document.Record
			id        uuid.UUID
			typ       string
			metadata  []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &typ, &rec.Slug, &rec.OutputPath, &metadata, &rec.CharCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		rec.ID = id
		rec.Type = document.Type(typ)
		rec.CreatedAt = createdAt
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata of %s: %w", id, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("postgres", "Recent", shared.ErrStoreUnavailable, "failed to read documents", err)
	}
	return out, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
