package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/config"
	"github.com/open-apime/crmhub/internal/logger"
	"github.com/open-apime/crmhub/internal/storage/sqlite"
)

func main() {
	postgresDir := flag.String("migrations", "db/migrations/postgres", "Diretório de migrations PostgreSQL")
	sqliteDir := flag.String("migrations-sqlite", "db/migrations/sqlite", "Diretório de migrations SQLite")
	flag.Parse()

	cfg := config.Load()

	logr, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logr.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var m migrator
	switch cfg.Storage.Driver {
	case "sqlite", "":
		db, err := sqlite.New(cfg.Storage.DataDir, logr)
		if err != nil {
			logr.Fatal("migrate: falha ao abrir SQLite", zap.Error(err))
		}
		defer db.Close()
		m = &sqliteMigrator{db: db}
		err = run(ctx, m, *sqliteDir, logr)
		if err != nil {
			logr.Fatal("migrate: erro ao aplicar migrations", zap.Error(err))
		}
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DB.DSN())
		if err != nil {
			logr.Fatal("migrate: falha ao conectar no PostgreSQL", zap.Error(err))
		}
		defer pool.Close()
		m = &postgresMigrator{pool: pool}
		if err := run(ctx, m, *postgresDir, logr); err != nil {
			logr.Fatal("migrate: erro ao aplicar migrations", zap.Error(err))
		}
	case "memory":
		logr.Info("migrate: driver em memória não possui schema")
		return
	default:
		logr.Fatal("migrate: driver desconhecido", zap.String("driver", cfg.Storage.Driver))
	}

	logr.Info("migrate: concluído com sucesso")
}

// migrator abstrai as diferenças de SQL entre os drivers.
type migrator interface {
	ensureTable(ctx context.Context) error
	applied(ctx context.Context, version string) (bool, error)
	apply(ctx context.Context, version, statements string) error
}

func run(ctx context.Context, m migrator, dir string, logr *zap.Logger) error {
	if err := m.ensureTable(ctx); err != nil {
		return fmt.Errorf("preparar schema_migrations: %w", err)
	}

	files, err := listSQLFiles(dir, ".up.sql")
	if err != nil {
		return fmt.Errorf("listar migrations: %w", err)
	}
	if len(files) == 0 {
		logr.Warn("migrate: nenhum arquivo .up.sql encontrado", zap.String("dir", dir))
		return nil
	}

	for _, file := range files {
		version := filepath.Base(file)
		done, err := m.applied(ctx, version)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		stmts, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("ler %s: %w", version, err)
		}
		if err := m.apply(ctx, version, string(stmts)); err != nil {
			return fmt.Errorf("executar %s: %w", version, err)
		}
		logr.Info("migrate: migration aplicada", zap.String("version", version))
	}
	return nil
}

type sqliteMigrator struct {
	db *sqlite.DB
}

func (m *sqliteMigrator) ensureTable(ctx context.Context) error {
	_, err := m.db.Conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

func (m *sqliteMigrator) applied(ctx context.Context, version string) (bool, error) {
	var count int
	if err := m.db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
		return false, fmt.Errorf("verificar %s: %w", version, err)
	}
	return count > 0, nil
}

func (m *sqliteMigrator) apply(ctx context.Context, version, statements string) error {
	if err := m.db.Exec(ctx, statements); err != nil {
		return err
	}
	_, err := m.db.Conn.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version)
	return err
}

type postgresMigrator struct {
	pool *pgxpool.Pool
}

func (m *postgresMigrator) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *postgresMigrator) applied(ctx context.Context, version string) (bool, error) {
	var exists bool
	if err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
		return false, fmt.Errorf("verificar %s: %w", version, err)
	}
	return exists, nil
}

func (m *postgresMigrator) apply(ctx context.Context, version, statements string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, statements); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func listSQLFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
