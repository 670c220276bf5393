package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// SQLLog implements Log over database/sql, usable with both SQLite and
// Postgres drivers. Watermark allocation is process-local; the primary key
// makes duplicate allocation a hard store error rather than silent corruption.
type SQLLog struct {
	db    *sql.DB
	clock *watermarkClock
}

func NewSQLLog(db *sql.DB) (*SQLLog, error) {
	l := &SQLLog{db: db, clock: newWatermarkClock()}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		tenant      TEXT NOT NULL,
		watermark   TEXT NOT NULL,
		message_cid TEXT NOT NULL,
		interface   TEXT NOT NULL DEFAULT '',
		method      TEXT NOT NULL DEFAULT '',
		protocol    TEXT NOT NULL DEFAULT '',
		record_id   TEXT NOT NULL DEFAULT '',
		ts          TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant, watermark)
	);
	`
	_, err := l.db.ExecContext(context.Background(), query)
	return err
}

func (l *SQLLog) Append(ctx context.Context, tenant, messageCID string, d *message.Descriptor) (string, error) {
	watermark, err := l.clock.next(tenant)
	if err != nil {
		return "", errs.Store(err, "allocating watermark")
	}
	var iface, method, protocol, recordID, ts string
	if d != nil {
		iface, method = string(d.Interface), string(d.Method)
		protocol, recordID, ts = d.Protocol, d.RecordID, d.MessageTimestamp
	}
	query := `
		INSERT INTO events (tenant, watermark, message_cid, interface, method, protocol, record_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := l.db.ExecContext(ctx, query,
		tenant, watermark, messageCID, iface, method, protocol, recordID, ts); err != nil {
		return "", errs.Store(err, "appending event for %s", messageCID)
	}
	return watermark, nil
}

func (l *SQLLog) EventsAfter(ctx context.Context, tenant, watermark string, f *message.Filter) ([]Event, error) {
	where := []string{"tenant = $1", "watermark > $2"}
	args := []any{tenant, watermark}

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
		add("record_id", f.RecordID)
		if f.DateFrom != "" {
			args = append(args, f.DateFrom)
			where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
		}
		if f.DateTo != "" {
			args = append(args, f.DateTo)
			where = append(where, fmt.Sprintf("ts < $%d", len(args)))
		}
	}

	query := `SELECT watermark, message_cid FROM events WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY watermark ASC`
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Store(err, "querying events")
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Watermark, &ev.MessageCID); err != nil {
			return nil, errs.Store(err, "scanning event row")
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Store(err, "iterating event rows")
	}
	return out, nil
}
