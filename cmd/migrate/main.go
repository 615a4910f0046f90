package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"mailroom/internal/migrations"
	"mailroom/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// migrate applies the embedded schema to a database file. The schema is
// idempotent (CREATE ... IF NOT EXISTS), so re-running it is safe.
func main() {
	dbPath := flag.String("db", "", "Path to the SQLite database file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *dbPath == "" {
		*dbPath = os.Getenv("MAILROOM_DB_PATH")
	}
	if *dbPath == "" {
		logger.Fatal("database path is required (use -db or MAILROOM_DB_PATH)")
	}

	if err := run(*dbPath); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
	logger.WithField("db", *dbPath).Info("Migration complete")
}

func run(dbPath string) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
