package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coinledger/internal/config"
	"coinledger/internal/db"
	"coinledger/internal/logger"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const downMarker = "-- +migrate Down"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.AppEnv)
	defer log.Sync()

	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text PRIMARY KEY, applied_at timestamptz NOT NULL DEFAULT now())`); err != nil {
		log.Fatal("failed to ensure schema_migrations", zap.Error(err))
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Fatal("failed to read migrations", zap.Error(err))
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			log.Fatal("failed to read migration state", zap.Error(err))
		}
		if exists {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("failed to read migration", zap.String("file", filename), zap.Error(err))
		}
		statements := splitSQL(upSection(string(content)))
		err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
			for _, stmt := range statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename)
			return err
		})
		if err != nil {
			log.Fatal("failed to apply migration", zap.String("file", filename), zap.Error(err))
		}
		applied++
		log.Info("applied migration", zap.String("file", filename), zap.Int("statements", len(statements)))
	}
	log.Info("migrations complete", zap.Int("applied", applied), zap.Int("total", len(files)))
}

// upSection drops everything from the down marker on.
func upSection(content string) string {
	up, _, _ := strings.Cut(content, downMarker)
	return up
}

// splitSQL breaks a script into statements on lines containing a semicolon.
// Full-line comments are skipped; statements are not parsed any further, so
// semicolons inside string literals are not supported.
func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = appendStatement(statements, current.String())
			current.Reset()
		}
	}
	return appendStatement(statements, current.String())
}

func appendStatement(statements []string, stmt string) []string {
	if strings.TrimSpace(stmt) == "" {
		return statements
	}
	return append(statements, stmt)
}
