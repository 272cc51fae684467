package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/nugget/shippopotamus/internal/prompts"
)

func (ix *Index) migrate() error {
	_, err := ix.db.Exec(`
		CREATE TABLE IF NOT EXISTS prompt_embeddings (
			namespace TEXT NOT NULL,
			name TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			vector BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, name)
		);
		CREATE INDEX IF NOT EXISTS idx_prompt_embeddings_hash ON prompt_embeddings(model, content_hash);
	`)
	return err
}

func (ix *Index) loadRecords(ctx context.Context) ([]Record, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT namespace, name, content_hash, model, vector, updated_at
		FROM prompt_embeddings
	`)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			ns      string
			blob    []byte
			updated string
		)
		if err := rows.Scan(&ns, &r.Name, &r.ContentHash, &r.Model, &blob, &updated); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		r.Namespace = prompts.Namespace(ns)
		r.Vector = decodeVector(blob)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ix *Index) persist(ctx context.Context, changed, removed []Record) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, r := range changed {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prompt_embeddings (namespace, name, content_hash, model, vector, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(namespace, name) DO UPDATE SET
				content_hash = excluded.content_hash,
				model = excluded.model,
				vector = excluded.vector,
				updated_at = excluded.updated_at
		`, string(r.Namespace), r.Name, r.ContentHash, r.Model, encodeVector(r.Vector),
			r.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("store embedding %s: %w", r.key(), err)
		}
	}
	for _, r := range removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM prompt_embeddings WHERE namespace = ? AND name = ?`,
			string(r.Namespace), r.Name); err != nil {
			return fmt.Errorf("delete embedding %s: %w", r.key(), err)
		}
	}
	return tx.Commit()
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return []byte{}
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
