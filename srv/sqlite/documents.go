package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kaijutsu/blockstore"
	"kaijutsu/crdt"
	"kaijutsu/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var documentTracer = otel.Tracer("kaijutsu/srv/sqlite")

// PersistDocument upserts a document's row. Blocks are persisted
// separately via PersistBlockState, mirroring the teacher's pattern of
// one table per aggregate root field group (PersistTask/PersistWorkspace).
func (s *Storage) PersistDocument(ctx context.Context, doc *domain.Document) error {
	ctx, span := documentTracer.Start(ctx, "Storage.PersistDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("context_id", string(doc.Id)),
	)

	query := `
		INSERT OR REPLACE INTO documents (id, kind, parent_id, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, string(doc.Id), string(doc.Kind), string(doc.ParentId), doc.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to persist document: %w", err)
	}
	return nil
}

// LoadDocument reconstructs a document's metadata row. It does not load
// blocks; callers reconstitute block state via LoadBlockStates into a
// blockstore.Store, which owns the in-memory domain.Document the server
// actually mutates against.
func (s *Storage) LoadDocument(ctx context.Context, id domain.ContextId) (domain.ContextKind, domain.ContextId, error) {
	ctx, span := documentTracer.Start(ctx, "Storage.LoadDocument")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", string(id)))

	var kind, parent string
	row := s.db.QueryRowContext(ctx, `SELECT kind, parent_id FROM documents WHERE id = ?`, string(id))
	if err := row.Scan(&kind, &parent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", fmt.Errorf("document %s not found: %w", id, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", "", fmt.Errorf("failed to load document: %w", err)
	}
	return domain.ContextKind(kind), domain.ContextId(parent), nil
}

// PersistBlockState upserts one block's header, order key, and full text
// oplog as a single row, keyed by its BlockId. The oplog is stored as
// opaque JSON (spec §6 oplog_bytes is explicitly opaque outside the crdt
// package), so replaying it on load is just crdt.New + MergeOps.
func (s *Storage) PersistBlockState(ctx context.Context, bs blockstore.BlockState) error {
	ctx, span := documentTracer.Start(ctx, "Storage.PersistBlockState")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("block_id", bs.Id.String()),
	)

	headerJSON, err := json.Marshal(bs.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal block header: %w", err)
	}
	textJSON, err := json.Marshal(bs.Text)
	if err != nil {
		return fmt.Errorf("failed to marshal block text ops: %w", err)
	}
	var parentId string
	if bs.ParentId != nil {
		parentId = bs.ParentId.String()
	}

	query := `
		INSERT INTO blocks (context_id, id, parent_id, order_key, role, kind, header, text_ops)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_id, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			order_key = excluded.order_key,
			header = excluded.header,
			text_ops = excluded.text_ops
	`
	_, err = s.db.ExecContext(ctx, query,
		string(bs.Id.ContextId), bs.Id.String(), parentId, bs.OrderKey,
		string(bs.Role), string(bs.Kind), string(headerJSON), string(textJSON),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to persist block state: %w", err)
	}
	return nil
}

// LoadBlockStates returns every persisted block row for a document,
// decoded back into blockstore.BlockState so a caller can feed them
// through Store.MergeOps to rebuild the in-memory document on startup.
func (s *Storage) LoadBlockStates(ctx context.Context, contextId domain.ContextId) ([]blockstore.BlockState, error) {
	ctx, span := documentTracer.Start(ctx, "Storage.LoadBlockStates")
	defer span.End()
	span.SetAttributes(attribute.String("context_id", string(contextId)))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, order_key, role, kind, header, text_ops
		FROM blocks WHERE context_id = ?
	`, string(contextId))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load block states: %w", err)
	}
	defer rows.Close()

	var out []blockstore.BlockState
	for rows.Next() {
		var idStr, parentStr, orderKey, role, kind, headerJSON, textJSON string
		if err := rows.Scan(&idStr, &parentStr, &orderKey, &role, &kind, &headerJSON, &textJSON); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}

		id, err := parseStoredBlockId(contextId, idStr)
		if err != nil {
			return nil, err
		}

		var parentId *domain.BlockId
		if parentStr != "" {
			p, err := parseStoredBlockId(contextId, parentStr)
			if err != nil {
				return nil, err
			}
			parentId = &p
		}

		var header domain.Header
		if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block header: %w", err)
		}
		var textOps crdt.OpBatch
		if err := json.Unmarshal([]byte(textJSON), &textOps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block text ops: %w", err)
		}

		out = append(out, blockstore.BlockState{
			Id:       id,
			ParentId: parentId,
			OrderKey: orderKey,
			Role:     domain.Role(role),
			Kind:     domain.Kind(kind),
			Header:   header,
			Text:     textOps,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate block rows: %w", err)
	}
	return out, nil
}

// parseStoredBlockId re-derives a BlockId from the "principal:sequence"
// suffix persisted via BlockId.String(), scoped back to its document's
// context id rather than re-parsing the context id segment, since a row's
// context_id column is already authoritative.
func parseStoredBlockId(contextId domain.ContextId, s string) (domain.BlockId, error) {
	var principal string
	var seq uint64
	// BlockId.String() is "<context>:<principal>:<sequence>"; split off the
	// leading context segment before scanning the rest.
	prefix := string(contextId) + ":"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return domain.BlockId{}, fmt.Errorf("block id %q does not belong to context %s", s, contextId)
	}
	rest := s[len(prefix):]
	if _, err := fmt.Sscanf(rest, "%s", &principal); err != nil {
		return domain.BlockId{}, fmt.Errorf("failed to parse block id %q: %w", s, err)
	}
	idx := -1
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.BlockId{}, fmt.Errorf("malformed block id %q", s)
	}
	principal = rest[:idx]
	if _, err := fmt.Sscanf(rest[idx+1:], "%d", &seq); err != nil {
		return domain.BlockId{}, fmt.Errorf("failed to parse block id sequence %q: %w", s, err)
	}
	return domain.BlockId{ContextId: contextId, PrincipalId: domain.PrincipalId(principal), Sequence: seq}, nil
}
