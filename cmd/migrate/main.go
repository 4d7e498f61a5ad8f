package main

import (
	"context"
	"database/sql"
	"embed"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/sqlinline"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseLogger routes goose output through zerolog.
type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msgf(format, v...)
}

func main() {
	command := flag.String("command", "up", "goose command: up, down, status, version")
	grant := flag.String("grant", "", "account id to credit after migrating")
	amount := flag.Int64("amount", 100, "credits granted with -grant")
	flag.Parse()

	_ = godotenv.Load()

	logger := infra.NewLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to reach database")
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal().Err(err).Msg("failed to set dialect")
	}

	if err := run(db, *command); err != nil {
		logger.Fatal().Err(err).Str("command", *command).Msg("migration failed")
	}

	if *grant != "" {
		balance, err := grantCredits(ctx, db, *grant, *amount)
		if err != nil {
			logger.Fatal().Err(err).Str("account_id", *grant).Msg("grant failed")
		}
		logger.Info().Str("account_id", *grant).Int64("amount", *amount).Int64("balance", balance).Msg("credits granted")
	}
}

func run(db *sql.DB, command string) error {
	switch command {
	case "up":
		return goose.Up(db, "migrations")
	case "down":
		return goose.Down(db, "migrations")
	case "status":
		return goose.Status(db, "migrations")
	case "version":
		return goose.Version(db, "migrations")
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func grantCredits(ctx context.Context, db *sql.DB, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("amount must be positive")
	}
	var balance int64
	if err := db.QueryRowContext(ctx, sqlinline.QGrantCredits, accountID, amount, "migrate -grant").Scan(&balance); err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}
