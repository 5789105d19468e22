package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Snapshot tables. Each row holds one JSON document keyed by its top-level
// map key.
const (
	TableMessageLog      = "message_log"
	TableGuilds          = "guilds"
	TableDMConversations = "dm_conversations"
)

// GlobalLogKey is the message_log row holding the global chat log.
const GlobalLogKey = "global"

// ErrUnknownTable is returned for table names outside the snapshot set.
var ErrUnknownTable = errors.New("unknown snapshot table")

// Doc is one snapshot document to upsert.
type Doc struct {
	Table string
	Key   string
	Body  []byte
}

func checkTable(table string) error {
	switch table {
	case TableMessageLog, TableGuilds, TableDMConversations:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, table)
}

// PutDocs upserts docs in a single transaction.
func (s *Store) PutDocs(ctx context.Context, docs []Doc) error {
	if len(docs) == 0 {
		return nil
	}
	for _, d := range docs {
		if err := checkTable(d.Table); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, d := range docs {
		q := `INSERT INTO ` + d.Table + `(key, doc, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, q, d.Key, string(d.Body), now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", d.Table, d.Key, err)
		}
	}
	return tx.Commit()
}

// LoadDocs returns every document in table keyed by row key.
func (s *Store) LoadDocs(ctx context.Context, table string) (map[string][]byte, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, doc FROM `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, err
		}
		out[key] = []byte(doc)
	}
	return out, rows.Err()
}
