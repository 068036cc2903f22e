package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/jaennil/guide_helper/tilestream/pkg/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewSQLiteStore(path string, l logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	c := &SQLiteStore{
		db:     db,
		logger: l,
	}

	err = c.runMigrations()
	if err != nil {
		return nil, err
	}

	l.Info("sqlite tile store initialized", "path", path)

	return c, nil
}

func (c *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(migrations)

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	return goose.Up(c.db, "migrations")
}

var _ TileStore = (*SQLiteStore)(nil)

func (c *SQLiteStore) Get(ctx context.Context, k TileKey) (data []byte, ok bool, err error) {
	defer func(start time.Time) { observe("sqlite", "get", start, err) }(time.Now())
	c.logger.Debug("sqlite store get", "tile", k.String())

	query := `SELECT tile_data
	FROM tile_cache
	WHERE dataset = ? AND z = ? AND x = ? AND y = ?`

	err = c.db.QueryRowContext(ctx, query, k.Dataset, k.Z, k.X, k.Y).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		c.logger.Error("sqlite store get failed", "tile", k.String(), "error", err)
		return nil, false, err
	}

	return data, true, nil
}

func (c *SQLiteStore) Set(ctx context.Context, k TileKey, v []byte) (err error) {
	defer func(start time.Time) { observe("sqlite", "set", start, err) }(time.Now())
	c.logger.Debug("sqlite store set", "tile", k.String(), "size", len(v))

	query := `INSERT INTO tile_cache (dataset, z, x, y, tile_data)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(dataset, z, x, y) DO UPDATE SET tile_data = excluded.tile_data`

	_, err = c.db.ExecContext(ctx, query, k.Dataset, k.Z, k.X, k.Y, v)
	if err != nil {
		c.logger.Error("sqlite store set failed", "tile", k.String(), "error", err)
		return err
	}

	return nil
}

func (c *SQLiteStore) Close() error {
	return c.db.Close()
}
