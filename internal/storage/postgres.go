package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresHistory stores one row per analysis and trims to MaxHistory on
// every append.
type PostgresHistory struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

func NewPostgresHistory(config DatabaseConfig, logger *zap.Logger) (*PostgresHistory, error) {
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	s := &PostgresHistory{db: db, now: time.Now, logger: logger}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return s, nil
}

func (s *PostgresHistory) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresHistory) Load(ctx context.Context) []models.AnalysisHistoryEntry {
	query := `
		SELECT id, payload, saved_at
		FROM analysis_history
		ORDER BY seq DESC
		LIMIT $1`

	out := []models.AnalysisHistoryEntry{}
	rows, err := s.db.QueryContext(ctx, query, MaxHistory)
	if err != nil {
		s.logger.Error("Failed to query history", zap.Error(err))
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       models.AnalysisHistoryEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &payload, &e.SavedAt); err != nil {
			s.logger.Error("Failed to scan history row", zap.Error(err))
			return []models.AnalysisHistoryEntry{}
		}
		if err := json.Unmarshal(payload, &e.Analysis); err != nil {
			s.logger.Warn("Skipping corrupt history row", zap.Error(err), zap.String("id", e.ID))
			continue
		}
		e.SavedAt = e.SavedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("Failed to read history", zap.Error(err))
		return []models.AnalysisHistoryEntry{}
	}
	return out
}

func (s *PostgresHistory) Append(ctx context.Context, a models.Analysis) (models.AnalysisHistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.AnalysisHistoryEntry{}, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	// A taken id moves the save time forward a millisecond, as the file and
	// memory stores do. The table never holds more than MaxHistory rows.
	insert := `
		INSERT INTO analysis_history (id, symbol, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`
	now := s.now()
	var entry models.AnalysisHistoryEntry
	for attempt := 0; ; attempt++ {
		if attempt > MaxHistory {
			return models.AnalysisHistoryEntry{}, fmt.Errorf("error inserting analysis: no free id for %s", a.Symbol)
		}
		entry = newEntry(a, now.Add(time.Duration(attempt)*time.Millisecond))
		payload, err := json.Marshal(entry.Analysis)
		if err != nil {
			return models.AnalysisHistoryEntry{}, fmt.Errorf("error encoding analysis: %w", err)
		}
		res, err := tx.ExecContext(ctx, insert, entry.ID, entry.Symbol, payload, entry.SavedAt)
		if err != nil {
			return models.AnalysisHistoryEntry{}, fmt.Errorf("error inserting analysis: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return models.AnalysisHistoryEntry{}, fmt.Errorf("error inserting analysis: %w", err)
		}
		if n == 1 {
			break
		}
	}

	trim := `
		DELETE FROM analysis_history
		WHERE seq NOT IN (SELECT seq FROM analysis_history ORDER BY seq DESC LIMIT $1)`
	if _, err := tx.ExecContext(ctx, trim, MaxHistory); err != nil {
		return models.AnalysisHistoryEntry{}, fmt.Errorf("error trimming history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.AnalysisHistoryEntry{}, fmt.Errorf("error committing analysis: %w", err)
	}
	return entry, nil
}

func (s *PostgresHistory) RemoveByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("error deleting analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error deleting analysis: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresHistory) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_history`); err != nil {
		return fmt.Errorf("error clearing history: %w", err)
	}
	return nil
}

func (s *PostgresHistory) Close() error {
	return s.db.Close()
}
