// Package database provides database operations for the hybridscan
// application. It handles all interactions with the SQLite database
// including initialization, optimization, and CRUD operations for
// persisted scan results.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hybridscan/internal/models"
)

// DB represents the database connection
type DB struct {
	*sql.DB
	Path   string // Exported for integration tests
	logger *zerolog.Logger
	sync.Mutex
}

// New creates a new database connection
func New(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection parameters
	db.SetMaxOpenConns(1) // SQLite supports only one writer at a time
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	// Create logger
	logger := log.With().Str("component", "database").Logger()

	// Create DB instance
	dbInstance := &DB{
		DB:     db,
		Path:   path,
		logger: &logger,
	}

	// Initialize the database schema
	if err := dbInstance.initializeDB(); err != nil {
		db.Close()
		return nil, err
	}

	// Run PRAGMA statements for optimization
	if err := dbInstance.optimizeDB(); err != nil {
		logger.Warn().Err(err).Msg("Failed to set some database optimization parameters")
	}

	return dbInstance, nil
}

// Initialize database schema
func (db *DB) initializeDB() error {
	db.logger.Info().Msg("Initializing database schema")

	schema := `
	-- Scan results table: one row per completed scan session
	CREATE TABLE IF NOT EXISTS scan_results (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		tool TEXT NOT NULL,
		status TEXT NOT NULL,
		detected_os TEXT,
		records TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	-- Create indexes
	CREATE INDEX IF NOT EXISTS idx_scan_results_target ON scan_results(target);
	CREATE INDEX IF NOT EXISTS idx_scan_results_tool ON scan_results(tool);
	CREATE INDEX IF NOT EXISTS idx_scan_results_timestamp ON scan_results(timestamp);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return nil
}

// optimizeDB sets SQLite optimization parameters
func (db *DB) optimizeDB() error {
	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return err
	}

	// Set synchronous mode to NORMAL for better performance with adequate safety
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return err
	}

	// Set busy timeout to avoid "database is locked" errors
	if _, err := db.Exec("PRAGMA busy_timeout=10000"); err != nil { // 10 seconds
		db.logger.Warn().Err(err).Msg("Failed to set busy_timeout PRAGMA")
	}

	// Set cache size for better performance
	if _, err := db.Exec("PRAGMA cache_size=-20000"); err != nil { // Approx 20MB cache
		db.logger.Warn().Err(err).Msg("Failed to set cache_size PRAGMA")
	}

	return nil
}

// ExecuteWithRetry attempts to execute a function with retries for transient errors
func (db *DB) ExecuteWithRetry(maxRetries int, retryDelay time.Duration, operation func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		// Check if the error is one we should retry
		if strings.Contains(err.Error(), "database is locked") ||
			strings.Contains(err.Error(), "busy") {
			db.logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxRetries", maxRetries).
				Msg("Retrying database operation")

			// Wait before retrying
			time.Sleep(retryDelay)

			// Increase delay for next attempt
			retryDelay = retryDelay * 2
			continue
		}

		// Not a retryable error
		break
	}

	return fmt.Errorf("database operation failed after %d attempts: %w", maxRetries, err)
}

// recordsEnvelope is the JSON blob stored in the records column. The
// tool-specific collections ride together so the column shape never
// depends on the tool.
type recordsEnvelope struct {
	Ports      []models.PortRecord `json:"ports"`
	Matches    map[string]string   `json:"results,omitempty"`
	Subdomains []string            `json:"subdomains,omitempty"`
}

// SaveScanResult appends a completed scan result. Results are append-only:
// a result id is written at most once and never updated.
func (db *DB) SaveScanResult(result *models.ScanResult) error {
	db.Lock()
	defer db.Unlock()

	if result.ID == "" {
		return fmt.Errorf("scan result has no id")
	}

	envelope := recordsEnvelope{
		Ports:      result.Ports,
		Matches:    result.Matches,
		Subdomains: result.Subdomains,
	}
	if envelope.Ports == nil {
		envelope.Ports = []models.PortRecord{}
	}

	records, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal scan records: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO scan_results (id, target, tool, status, detected_os, records, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.Target, string(result.Tool), result.Status, result.DetectedOS, string(records), result.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}

	db.logger.Debug().
		Str("id", result.ID).
		Str("target", result.Target).
		Str("tool", string(result.Tool)).
		Msg("Scan result saved")

	return nil
}

// scanResultRow reads one scan_results row from the given scanner.
func scanResultRow(scan func(dest ...interface{}) error) (*models.ScanResult, error) {
	var result models.ScanResult
	var tool, records string
	var detectedOS sql.NullString

	if err := scan(&result.ID, &result.Target, &tool, &result.Status, &detectedOS, &records, &result.Timestamp); err != nil {
		return nil, err
	}

	result.Tool = models.Tool(tool)
	result.DetectedOS = detectedOS.String

	var envelope recordsEnvelope
	if err := json.Unmarshal([]byte(records), &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scan records: %w", err)
	}
	result.Ports = envelope.Ports
	result.Matches = envelope.Matches
	result.Subdomains = envelope.Subdomains

	return &result, nil
}

// GetScanResult retrieves a scan result by ID
func (db *DB) GetScanResult(id string) (*models.ScanResult, error) {
	row := db.QueryRow(`
		SELECT id, target, tool, status, detected_os, records, timestamp
		FROM scan_results
		WHERE id = ?
	`, id)

	result, err := scanResultRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scan result not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan result: %w", err)
	}

	return result, nil
}

// GetAllScanResults retrieves all scan results, newest first. A limit of
// zero or less returns everything.
func (db *DB) GetAllScanResults(limit int) ([]*models.ScanResult, error) {
	query := `
		SELECT id, target, tool, status, detected_os, records, timestamp
		FROM scan_results
		ORDER BY timestamp DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan results: %w", err)
	}
	defer rows.Close()

	results := make([]*models.ScanResult, 0)
	for rows.Next() {
		result, err := scanResultRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, result)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan result rows: %w", err)
	}

	return results, nil
}

// GetScanResultsByTarget retrieves all scan results for one target, newest first
func (db *DB) GetScanResultsByTarget(target string) ([]*models.ScanResult, error) {
	rows, err := db.Query(`
		SELECT id, target, tool, status, detected_os, records, timestamp
		FROM scan_results
		WHERE target = ?
		ORDER BY timestamp DESC
	`, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan results for target: %w", err)
	}
	defer rows.Close()

	results := make([]*models.ScanResult, 0)
	for rows.Next() {
		result, err := scanResultRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, result)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scan result rows: %w", err)
	}

	return results, nil
}

// GetGroupedResults returns all scan results grouped by target, with
// targets ordered by their most recent scan.
func (db *DB) GetGroupedResults() ([]*models.TargetGroup, error) {
	results, err := db.GetAllScanResults(0)
	if err != nil {
		return nil, err
	}

	groups := make([]*models.TargetGroup, 0)
	index := make(map[string]*models.TargetGroup)

	// Results arrive newest first, so group order follows recency.
	for _, result := range results {
		group, exists := index[result.Target]
		if !exists {
			group = &models.TargetGroup{Target: result.Target, Scans: make([]*models.ScanResult, 0, 1)}
			index[result.Target] = group
			groups = append(groups, group)
		}
		group.Scans = append(group.Scans, result)
	}

	return groups, nil
}

// DeleteScanResult removes a stored scan result. This is results-browser
// housekeeping, not part of the streaming core.
func (db *DB) DeleteScanResult(id string) error {
	db.Lock()
	defer db.Unlock()

	res, err := db.Exec(`DELETE FROM scan_results WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scan result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deleted rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scan result not found: %s", id)
	}

	return nil
}

// CleanOldData removes scan results older than the retention period.
// Returns the number of removed rows.
func (db *DB) CleanOldData(retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	db.Lock()
	defer db.Unlock()

	cutoff := time.Now().Add(-time.Hour * 24 * time.Duration(retentionDays))

	res, err := db.Exec(`DELETE FROM scan_results WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean old scan results: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned rows: %w", err)
	}

	if affected > 0 {
		db.logger.Info().Int64("removed", affected).Msg("Cleaned old scan results")
	}

	return int(affected), nil
}

// OptimizeDatabase runs maintenance operations on the database
func (db *DB) OptimizeDatabase() error {
	db.Lock()
	defer db.Unlock()

	db.logger.Info().Msg("Optimizing database")

	if _, err := db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	if _, err := db.Exec("ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}

	return nil
}

// GetDatabaseStats returns summary statistics about stored scan results
func (db *DB) GetDatabaseStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var scanCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM scan_results`).Scan(&scanCount); err != nil {
		return nil, fmt.Errorf("failed to count scan results: %w", err)
	}
	stats["scanCount"] = scanCount

	var targetCount int
	if err := db.QueryRow(`SELECT COUNT(DISTINCT target) FROM scan_results`).Scan(&targetCount); err != nil {
		return nil, fmt.Errorf("failed to count targets: %w", err)
	}
	stats["targetCount"] = targetCount

	var lastScanTime sql.NullTime
	if err := db.QueryRow(`SELECT MAX(timestamp) FROM scan_results`).Scan(&lastScanTime); err != nil {
		return nil, fmt.Errorf("failed to get last scan time: %w", err)
	}
	if lastScanTime.Valid {
		stats["lastScanTime"] = lastScanTime.Time
	} else {
		stats["lastScanTime"] = nil
	}

	// Per-tool breakdown
	toolDistribution := make(map[string]int)
	rows, err := db.Query(`SELECT tool, COUNT(*) FROM scan_results GROUP BY tool`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tool string
		var count int
		if err := rows.Scan(&tool, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tool distribution row: %w", err)
		}
		toolDistribution[tool] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool distribution rows: %w", err)
	}
	stats["toolDistribution"] = toolDistribution

	// Database file size
	if info, err := os.Stat(db.Path); err == nil {
		stats["sizeBytes"] = info.Size()
	} else {
		stats["sizeBytes"] = int64(0)
	}

	return stats, nil
}
