package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/alimasry/docupdater/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps docs in a single SQLite database in WAL mode.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) CreateDoc(ctx context.Context, projectID, docID string, doc *model.Document) error {
	lines, err := json.Marshal(nonNilLines(doc.Lines))
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}
	ranges, err := marshalRanges(doc.Ranges)
	if err != nil {
		return err
	}
	resolved, err := json.Marshal(nonNilLines(doc.ResolvedCommentIDs))
	if err != nil {
		return fmt.Errorf("marshal resolved comment ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO docs (project_id, doc_id, lines, version, ranges, resolved_comment_ids,
			pathname, project_history_id, history_ranges_support, last_updated_at, last_updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, projectID, docID, string(lines), doc.Version, ranges, string(resolved),
		doc.Pathname, doc.ProjectHistoryID, doc.HistoryRangesSupport,
		unixMilli(doc.LastUpdatedAt), doc.LastUpdatedBy)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert doc: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDoc(ctx context.Context, projectID, docID string, opts GetOptions) (*model.Document, error) {
	var (
		doc              model.Document
		lines            string
		ranges, resolved sql.NullString
		lastUpdatedAt    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT lines, version, ranges, resolved_comment_ids, pathname, project_history_id,
			history_ranges_support, last_updated_at, last_updated_by
		FROM docs
		WHERE project_id = ? AND doc_id = ?
	`, projectID, docID).Scan(&lines, &doc.Version, &ranges, &resolved, &doc.Pathname,
		&doc.ProjectHistoryID, &doc.HistoryRangesSupport, &lastUpdatedAt, &doc.LastUpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("query doc: %w", err)
	}

	if err := json.Unmarshal([]byte(lines), &doc.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines of doc %s: %w", docID, err)
	}
	if ranges.Valid && ranges.String != "" {
		if err := json.Unmarshal([]byte(ranges.String), &doc.Ranges); err != nil {
			return nil, fmt.Errorf("unmarshal ranges of doc %s: %w", docID, err)
		}
	}
	if resolved.Valid && resolved.String != "" {
		if err := json.Unmarshal([]byte(resolved.String), &doc.ResolvedCommentIDs); err != nil {
			return nil, fmt.Errorf("unmarshal resolved comment ids of doc %s: %w", docID, err)
		}
	}
	if lastUpdatedAt.Valid {
		doc.LastUpdatedAt = time.UnixMilli(lastUpdatedAt.Int64).UTC()
	}

	if !opts.Peek {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE docs SET last_opened_at = ? WHERE project_id = ? AND doc_id = ?`,
			s.now().UnixMilli(), projectID, docID); err != nil {
			return nil, fmt.Errorf("mark doc opened: %w", err)
		}
	}
	return &doc, nil
}

func (s *SQLiteStore) SetDoc(ctx context.Context, projectID, docID string, lines []string, version int, ranges model.Ranges, lastUpdatedAt time.Time, lastUpdatedBy string) error {
	encoded, err := json.Marshal(nonNilLines(lines))
	if err != nil {
		return fmt.Errorf("marshal lines: %w", err)
	}
	encodedRanges, err := marshalRanges(ranges)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE docs
		SET lines = ?, version = ?, ranges = ?, last_updated_at = ?, last_updated_by = ?
		WHERE project_id = ? AND doc_id = ?
	`, string(encoded), version, encodedRanges, unixMilli(lastUpdatedAt), lastUpdatedBy, projectID, docID)
	if err != nil {
		return fmt.Errorf("update doc: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update doc: %w", err)
	}
	if n == 0 {
		return model.NotFoundf("doc %s in project %s", docID, projectID)
	}
	return nil
}

func (s *SQLiteStore) ListDocs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id FROM docs WHERE project_id = ? ORDER BY doc_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query docs: %w", err)
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doc id: %w", err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate docs: %w", err)
	}
	return result, nil
}

// openedAt is used by tests to observe Peek.
func (s *SQLiteStore) openedAt(ctx context.Context, projectID, docID string) (sql.NullInt64, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_opened_at FROM docs WHERE project_id = ? AND doc_id = ?`,
		projectID, docID).Scan(&v)
	return v, err
}

// marshalRanges stores empty ranges as NULL.
func marshalRanges(r model.Ranges) (any, error) {
	if r.IsEmpty() {
		return nil, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal ranges: %w", err)
	}
	return string(b), nil
}

func unixMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nonNilLines(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
