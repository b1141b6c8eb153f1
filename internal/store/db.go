package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type ConnectOptions struct {
	Driver        string
	DatabaseURL   string
	MigrationsDir string
	MongoURL      string
	MongoDatabase string
}

// Connect opens the configured driver and brings its schema up to date.
func Connect(ctx context.Context, opts ConnectOptions) (Database, error) {
	switch opts.Driver {
	case "memory":
		return NewMemoryDatabase(), nil
	case "mongo":
		db, err := OpenMongo(ctx, opts.MongoURL, opts.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			_ = db.Close(context.Background())
			return nil, err
		}
		return db, nil
	case "postgres", "":
		db, err := Open(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if _, err := ApplyMigrations(ctx, db, opts.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, err
		}
		return NewPostgresDatabase(db), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
