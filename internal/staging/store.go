package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/archivescan/pipeline/internal/table"
)

// Store persists session stats and summary rows to a local sqlite database
// so finished sessions can be reviewed after the pipeline-side files expire.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processing_sessions (
	session_id        TEXT PRIMARY KEY,
	uploaded_filename TEXT NOT NULL,
	session_path      TEXT NOT NULL,
	status            TEXT NOT NULL,
	total_items       INTEGER NOT NULL DEFAULT 0,
	duplicates_found  INTEGER NOT NULL DEFAULT 0,
	quality_issues    INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at      TIMESTAMP
);
CREATE TABLE IF NOT EXISTS processing_items (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        TEXT NOT NULL REFERENCES processing_sessions(session_id) ON DELETE CASCADE,
	directory         TEXT NOT NULL,
	id_number         TEXT NOT NULL,
	front_image_path  TEXT NOT NULL,
	back_image_path   TEXT NOT NULL,
	handwritten_notes TEXT NOT NULL,
	printed_labels    TEXT NOT NULL,
	addresses         TEXT NOT NULL,
	other_markings    TEXT NOT NULL,
	extraction_notes  TEXT NOT NULL,
	flags             TEXT NOT NULL,
	processed_at      TEXT NOT NULL,
	model_used        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processing_items_session ON processing_items(session_id);
`

// Open connects to (or creates) the staging database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("staging db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open staging db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("staging db pragma: %w", err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("staging db schema: %w", err)
	}

	logger.Info("staging.opened", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateSession registers a session at submit time.
func (s *Store) CreateSession(ctx context.Context, sessionID, uploadedFilename, sessionPath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_sessions (session_id, uploaded_filename, session_path, status)
		VALUES (?, ?, ?, 'created')`,
		sessionID, uploadedFilename, sessionPath)
	if err != nil {
		return fmt.Errorf("create staging session: %w", err)
	}
	return nil
}

// UpdateSessionStatus moves the staged session to a new status.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE processing_sessions SET status = ? WHERE session_id = ?`,
		status, sessionID)
	if err != nil {
		return fmt.Errorf("update staging status: %w", err)
	}
	return nil
}

// UpdateSessionStats records the final counters and completion time.
func (s *Store) UpdateSessionStats(ctx context.Context, sessionID string, stats table.Stats) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_sessions
		SET total_items = ?, duplicates_found = ?, quality_issues = ?, completed_at = ?
		WHERE session_id = ?`,
		stats.TotalItems, stats.Duplicates, stats.QualityIssues,
		time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("update staging stats: %w", err)
	}
	return nil
}

// InsertItem stages one summary row for review.
func (s *Store) InsertItem(ctx context.Context, sessionID string, row table.Row) error {
	flags, err := json.Marshal(row.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_items
		(session_id, directory, id_number, front_image_path, back_image_path,
		 handwritten_notes, printed_labels, addresses, other_markings,
		 extraction_notes, flags, processed_at, model_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, row.Directory, row.IDNumber, row.FrontImagePath, row.BackImagePath,
		row.HandwrittenNotes, row.PrintedLabels, row.Addresses, row.OtherMarkings,
		row.ExtractionNotes, string(flags), row.ProcessedAt, row.ModelUsed)
	if err != nil {
		return fmt.Errorf("insert staging item: %w", err)
	}
	return nil
}

// ListItems returns the staged rows for a session, ordered by directory.
func (s *Store) ListItems(ctx context.Context, sessionID string) ([]table.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT directory, id_number, front_image_path, back_image_path,
		       handwritten_notes, printed_labels, addresses, other_markings,
		       extraction_notes, flags, processed_at, model_used
		FROM processing_items WHERE session_id = ? ORDER BY directory`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list staging items: %w", err)
	}
	defer rows.Close()

	var out []table.Row
	for rows.Next() {
		var r table.Row
		var flags string
		if err := rows.Scan(
			&r.Directory, &r.IDNumber, &r.FrontImagePath, &r.BackImagePath,
			&r.HandwrittenNotes, &r.PrintedLabels, &r.Addresses, &r.OtherMarkings,
			&r.ExtractionNotes, &flags, &r.ProcessedAt, &r.ModelUsed,
		); err != nil {
			return nil, fmt.Errorf("scan staging item: %w", err)
		}
		if flags != "" && flags != "null" {
			if err := json.Unmarshal([]byte(flags), &r.Flags); err != nil {
				return nil, fmt.Errorf("decode flags: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staging items: %w", err)
	}
	return out, nil
}

// DeleteSession drops a staged session and its items.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete staging session: %w", err)
	}
	return nil
}

// StageRows writes the whole summary for a session in one call: stats plus
// every row, replacing any earlier rows for the session.
func (s *Store) StageRows(ctx context.Context, sessionID string, rows []table.Row, stats table.Stats) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_items WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear staging items: %w", err)
	}
	for _, row := range rows {
		if err := s.InsertItem(ctx, sessionID, row); err != nil {
			return err
		}
	}
	if err := s.UpdateSessionStats(ctx, sessionID, stats); err != nil {
		return err
	}
	if err := s.UpdateSessionStatus(ctx, sessionID, "review_ready"); err != nil {
		return err
	}
	s.logger.Info("staging.rows_staged",
		"session_id", sessionID,
		"rows", len(rows),
		"flagged", countFlagged(rows),
	)
	return nil
}

func countFlagged(rows []table.Row) int {
	n := 0
	for _, r := range rows {
		if len(r.Flags) > 0 {
			n++
		}
	}
	return n
}
