// Package repository provides data access implementations
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/serdaroglu/suizim-bot/internal/entities"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBPath is used when no path is configured
const DefaultDBPath = "data/reservoirs.db"

// ReservoirRepository defines the interface for reservoir snapshot persistence.
// Only the latest snapshot per city is kept.
type ReservoirRepository interface {
	SaveSnapshot(city entities.City, readings []entities.ReservoirReading, general entities.GeneralOccupancy) error
	GetReadings(city entities.City) ([]entities.ReservoirReading, error)
	GetGeneral(city entities.City) (entities.GeneralOccupancy, error)
	GetLastUpdateTime() (time.Time, error)
	Close() error
}

// SQLiteReservoirRepository implements ReservoirRepository using SQLite
type SQLiteReservoirRepository struct {
	db     *sql.DB
	DBPath string
}

// NewSQLiteReservoirRepository creates and initializes a new SQLite repository
func NewSQLiteReservoirRepository(dbPath string) (*SQLiteReservoirRepository, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	log.Printf("Opening database at %s", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS reservoir_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		city TEXT NOT NULL,
		name TEXT NOT NULL,
		occupancy_rate REAL NOT NULL,
		observed_at INTEGER NOT NULL,
		saved_at INTEGER NOT NULL,
		UNIQUE(city, name)
	);
	CREATE INDEX IF NOT EXISTS idx_readings_city ON reservoir_readings(city);
	CREATE TABLE IF NOT EXISTS general_occupancy (
		city TEXT PRIMARY KEY,
		rate REAL NOT NULL,
		source_label TEXT NOT NULL,
		as_of_label TEXT NOT NULL,
		saved_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteReservoirRepository{
		db:     db,
		DBPath: dbPath,
	}, nil
}

// Close closes the database connection
func (r *SQLiteReservoirRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot of city. A zero general value clears the stored one.
func (r *SQLiteReservoirRepository) SaveSnapshot(city entities.City, readings []entities.ReservoirReading, general entities.GeneralOccupancy) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reservoir_readings WHERE city = ?`, string(city)); err != nil {
		return fmt.Errorf("failed to clear readings for %s: %w", city, err)
	}

	savedAt := time.Now().Unix()
	stmt, err := tx.Prepare(`
		INSERT INTO reservoir_readings(city, name, occupancy_rate, observed_at, saved_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(city, name) DO UPDATE SET
		occupancy_rate=excluded.occupancy_rate,
		observed_at=excluded.observed_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rd := range readings {
		if _, err := stmt.Exec(string(city), rd.Name, rd.OccupancyRate, rd.ObservedAt.Unix(), savedAt); err != nil {
			return fmt.Errorf("failed to insert reading %s for %s: %w", rd.Name, city, err)
		}
	}

	if general.IsZero() {
		_, err = tx.Exec(`DELETE FROM general_occupancy WHERE city = ?`, string(city))
	} else {
		_, err = tx.Exec(`
			INSERT INTO general_occupancy(city, rate, source_label, as_of_label, saved_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(city) DO UPDATE SET
			rate=excluded.rate,
			source_label=excluded.source_label,
			as_of_label=excluded.as_of_label,
			saved_at=excluded.saved_at`,
			string(city), general.Rate, general.SourceLabel, general.AsOfLabel, savedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to save general occupancy for %s: %w", city, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Saved snapshot for %s: %d readings, general %.2f", city, len(readings), general.Rate)
	return nil
}

// GetReadings returns the stored readings of city ordered by name
func (r *SQLiteReservoirRepository) GetReadings(city entities.City) ([]entities.ReservoirReading, error) {
	rows, err := r.db.Query(`
		SELECT id, city, name, occupancy_rate, observed_at
		FROM reservoir_readings
		WHERE city = ?
		ORDER BY name`, string(city))
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", city, err)
	}
	defer rows.Close()

	var result []entities.ReservoirReading
	for rows.Next() {
		var (
			rd         entities.ReservoirReading
			cityName   string
			observedAt int64
		)
		if err := rows.Scan(&rd.ID, &cityName, &rd.Name, &rd.OccupancyRate, &observedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rd.City = entities.City(cityName)
		rd.ObservedAt = time.Unix(observedAt, 0)
		result = append(result, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return result, nil
}

// GetGeneral returns the stored general occupancy of city, or the zero value if none
func (r *SQLiteReservoirRepository) GetGeneral(city entities.City) (entities.GeneralOccupancy, error) {
	var g entities.GeneralOccupancy
	err := r.db.QueryRow(`
		SELECT rate, source_label, as_of_label
		FROM general_occupancy
		WHERE city = ?`, string(city)).Scan(&g.Rate, &g.SourceLabel, &g.AsOfLabel)
	if errors.Is(err, sql.ErrNoRows) {
		return entities.GeneralOccupancy{}, nil
	}
	if err != nil {
		return entities.GeneralOccupancy{}, fmt.Errorf("failed to query general occupancy for %s: %w", city, err)
	}
	return g, nil
}

// GetLastUpdateTime returns when any snapshot was last saved, or zero time if none
func (r *SQLiteReservoirRepository) GetLastUpdateTime() (time.Time, error) {
	var savedAt sql.NullInt64
	err := r.db.QueryRow(`
		SELECT MAX(saved_at) FROM (
			SELECT saved_at FROM reservoir_readings
			UNION ALL
			SELECT saved_at FROM general_occupancy
		)`).Scan(&savedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last update time: %w", err)
	}
	if !savedAt.Valid {
		return time.Time{}, nil
	}
	return time.Unix(savedAt.Int64, 0), nil
}
