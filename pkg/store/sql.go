package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// SQLMessageStore implements MessageStore over database/sql. It works with
// both SQLite and Postgres through standard drivers; descriptor fields the
// engine queries on are denormalized into indexed columns, the full message is
// kept as raw JSON.
type SQLMessageStore struct {
	db *sql.DB
}

func NewSQLMessageStore(db *sql.DB) (*SQLMessageStore, error) {
	s := &SQLMessageStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLMessageStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		tenant        TEXT NOT NULL,
		cid           TEXT NOT NULL,
		interface     TEXT NOT NULL,
		method        TEXT NOT NULL,
		ts            TEXT NOT NULL,
		record_id     TEXT NOT NULL DEFAULT '',
		protocol      TEXT NOT NULL DEFAULT '',
		protocol_path TEXT NOT NULL DEFAULT '',
		context_id    TEXT NOT NULL DEFAULT '',
		parent_id     TEXT NOT NULL DEFAULT '',
		schema        TEXT NOT NULL DEFAULT '',
		recipient     TEXT NOT NULL DEFAULT '',
		published     INTEGER NOT NULL DEFAULT 0,
		raw           TEXT NOT NULL,
		PRIMARY KEY (tenant, cid)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_record ON messages (tenant, record_id);
	CREATE INDEX IF NOT EXISTS idx_messages_protocol ON messages (tenant, protocol, protocol_path);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages (tenant, ts);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLMessageStore) Put(ctx context.Context, tenant string, m *message.Message) error {
	cid, err := m.CID()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return errs.Store(err, "serializing message")
	}
	d := &m.Descriptor
	published := 0
	if d.Published {
		published = 1
	}
	query := `
		INSERT INTO messages
			(tenant, cid, interface, method, ts, record_id, protocol, protocol_path,
			 context_id, parent_id, schema, recipient, published, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant, cid) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		tenant, cid, string(d.Interface), string(d.Method), d.MessageTimestamp,
		d.RecordID, d.Protocol, d.ProtocolPath, d.ContextID, d.ParentID,
		d.Schema, d.Recipient, published, string(raw),
	); err != nil {
		return errs.Store(err, "persisting message %s", cid)
	}
	return nil
}

func (s *SQLMessageStore) Get(ctx context.Context, tenant, cid string) (*message.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT raw FROM messages WHERE tenant = $1 AND cid = $2`, tenant, cid)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("message %s not found", cid)
		}
		return nil, errs.Store(err, "fetching message %s", cid)
	}
	return decodeRaw(raw)
}

func (s *SQLMessageStore) Query(ctx context.Context, tenant string, f *message.Filter) ([]*message.Message, error) {
	where := []string{"tenant = $1"}
	args := []any{tenant}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f != nil {
		add("interface", string(f.Interface))
		add("method", string(f.Method))
		add("protocol", f.Protocol)
		add("protocol_path", f.ProtocolPath)
		add("record_id", f.RecordID)
		add("context_id", f.ContextID)
		add("schema", f.Schema)
		add("recipient", f.Recipient)
		if f.DateFrom != "" {
			args = append(args, f.DateFrom)
			where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
		}
		if f.DateTo != "" {
			args = append(args, f.DateTo)
			where = append(where, fmt.Sprintf("ts < $%d", len(args)))
		}
	}

	query := `SELECT raw FROM messages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ts ASC, cid ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Store(err, "querying messages")
	}
	defer func() { _ = rows.Close() }()

	var out []*message.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Store(err, "scanning message row")
		}
		m, err := decodeRaw(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store(err, "iterating message rows")
	}
	return out, nil
}

func (s *SQLMessageStore) Delete(ctx context.Context, tenant, cid string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE tenant = $1 AND cid = $2`, tenant, cid); err != nil {
		return errs.Store(err, "deleting message %s", cid)
	}
	return nil
}

func decodeRaw(raw string) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errs.Store(err, "decoding stored message")
	}
	return &m, nil
}
