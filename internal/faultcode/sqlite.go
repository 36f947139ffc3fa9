package faultcode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSource serves fault codes from a local SQLite database, acting as
// the remote tier of the resolution waterfall. The schema mirrors the
// upstream boiler_fault_codes table.
type SQLiteSource struct {
	conn   *sql.DB
	logger *zap.Logger
}

// OpenSQLiteSource opens or creates the fault-code database at dbPath.
func OpenSQLiteSource(dbPath string, logger *zap.Logger) (*SQLiteSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open fault code database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteSource{conn: conn, logger: logger}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize fault code schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSource) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS boiler_fault_codes (
			manufacturer TEXT NOT NULL,
			model_name TEXT,
			gc_number TEXT,
			fault_code TEXT NOT NULL,
			description TEXT NOT NULL,
			solutions TEXT,
			safety_warning TEXT,
			components TEXT,
			PRIMARY KEY (manufacturer, fault_code)
		);
		CREATE INDEX IF NOT EXISTS idx_fault_codes_code ON boiler_fault_codes(fault_code);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// QueryByManufacturerAndCode implements Source. A missing row is reported
// as (nil, nil), not an error.
func (s *SQLiteSource) QueryByManufacturerAndCode(ctx context.Context, manufacturer, code string) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT fault_code, description, solutions, safety_warning, components
		FROM boiler_fault_codes
		WHERE manufacturer = ? AND fault_code = ?`,
		strings.ToLower(strings.TrimSpace(manufacturer)),
		strings.ToUpper(strings.TrimSpace(code)),
	)

	var (
		rec        Record
		solutions  sql.NullString
		warning    sql.NullString
		components sql.NullString
	)
	err := row.Scan(&rec.Code, &rec.Description, &solutions, &warning, &components)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fault code: %w", err)
	}

	rec.Manufacturer = strings.ToLower(strings.TrimSpace(manufacturer))
	rec.TroubleshootingSteps = decodeSolutions(solutions.String)
	rec.SafetyWarning = warning.String
	if components.Valid && components.String != "" {
		if err := json.Unmarshal([]byte(components.String), &rec.Components); err != nil {
			// Tolerate a plain comma-separated list from hand-edited rows.
			rec.Components = splitAndTrim(components.String)
		}
	}
	return &rec, nil
}

// Insert adds or replaces a fault code row. Used by fixtures and ingest
// tooling.
func (s *SQLiteSource) Insert(ctx context.Context, rec Record) error {
	components, err := json.Marshal(rec.Components)
	if err != nil {
		return fmt.Errorf("encode components: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO boiler_fault_codes
			(manufacturer, fault_code, description, solutions, safety_warning, components)
		VALUES (?, ?, ?, ?, ?, ?)`,
		strings.ToLower(strings.TrimSpace(rec.Manufacturer)),
		strings.ToUpper(strings.TrimSpace(rec.Code)),
		rec.Description,
		rec.TroubleshootingSteps,
		rec.SafetyWarning,
		string(components),
	)
	return err
}

// Close closes the database connection.
func (s *SQLiteSource) Close() error {
	return s.conn.Close()
}

// decodeSolutions accepts either a JSON array of steps or a plain string,
// matching what the upstream table has historically held.
func decodeSolutions(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err == nil {
		return strings.Join(steps, " ")
	}
	return raw
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
