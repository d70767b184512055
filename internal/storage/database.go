package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"vsoportal/internal/config"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// every new connection to :memory: would see an empty database
		if strings.Contains(dbCfg.DSN, ":memory:") {
			db.SetMaxOpenConns(1)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "postgresql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("postgres", strings.TrimSpace(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Placeholder returns the bind-variable style used by the driver.
func Placeholder(driver string) sq.PlaceholderFormat {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		return sq.Dollar
	default:
		return sq.Question
	}
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS clients (
				id TEXT PRIMARY KEY,
				voornaam TEXT NOT NULL,
				achternaam TEXT NOT NULL,
				aanhef TEXT NOT NULL,
				referentienummer TEXT NOT NULL,
				email TEXT NOT NULL,
				adres TEXT NOT NULL,
				postcode TEXT NOT NULL,
				woonplaats TEXT NOT NULL,
				werkgever TEXT NOT NULL,
				werkgever_naam TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_clients_created_at ON clients(created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_clients_achternaam ON clients(achternaam)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS clients (
				id CHAR(36) NOT NULL,
				voornaam VARCHAR(255) NOT NULL,
				achternaam VARCHAR(255) NOT NULL,
				aanhef VARCHAR(50) NOT NULL,
				referentienummer VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL,
				adres VARCHAR(255) NOT NULL,
				postcode VARCHAR(16) NOT NULL,
				woonplaats VARCHAR(255) NOT NULL,
				werkgever JSON NOT NULL,
				werkgever_naam VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_clients_created_at (created_at),
				INDEX idx_clients_achternaam (achternaam)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres", "postgresql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS clients (
				id UUID PRIMARY KEY,
				voornaam TEXT NOT NULL,
				achternaam TEXT NOT NULL,
				aanhef TEXT NOT NULL,
				referentienummer TEXT NOT NULL,
				email TEXT NOT NULL,
				adres TEXT NOT NULL,
				postcode TEXT NOT NULL,
				woonplaats TEXT NOT NULL,
				werkgever JSONB NOT NULL,
				werkgever_naam TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_clients_created_at ON clients(created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_clients_achternaam ON clients(achternaam)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
