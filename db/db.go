package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

func DBConnect() (*sql.DB, error) {
	host := os.Getenv("PG_HOST")
	portStr := os.Getenv("PG_PORT")
	user := os.Getenv("PG_USER")
	password := os.Getenv("PG_PASS")
	dbname := os.Getenv("PG_DBNAME")

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PG_PORT: %v", err)
	}

	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	log.Printf("Attempting to connect with: host=%s port=%d user=%s dbname=%s", host, port, user, dbname)

	database, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("error opening Postgres connection: %w", err)
	}

	database.SetMaxOpenConns(25)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	log.Println("Successfully connected to database")
	return database, nil
}

func CreateTables(database *sql.DB) error {
	_, err := database.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			threshold_price NUMERIC NOT NULL CHECK (threshold_price > 0),
			direction VARCHAR(10) NOT NULL CHECK (direction IN ('above', 'below')),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			triggered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create alerts table: %w", err)
	}

	_, err = database.Exec(`
		CREATE TABLE IF NOT EXISTS notification_channels (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			channel_type VARCHAR(20) NOT NULL CHECK (channel_type IN ('log', 'email', 'telegram', 'browser')),
			config JSONB NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create notification_channels table: %w", err)
	}

	_, err = database.Exec(`
		CREATE TABLE IF NOT EXISTS alert_notification_channels (
			id SERIAL PRIMARY KEY,
			alert_id INTEGER NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
			channel_id INTEGER NOT NULL REFERENCES notification_channels(id) ON DELETE CASCADE,
			UNIQUE (alert_id, channel_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create alert_notification_channels table: %w", err)
	}

	return nil
}

// Store wraps the sql handle with the query surface the runtime needs. It is
// the persistence collaborator handed to the exchange services and the
// notification dispatcher.
type Store struct {
	DB *sql.DB
}

func NewStore(database *sql.DB) *Store {
	return &Store{DB: database}
}
