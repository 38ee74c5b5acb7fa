package store

import (
	"context"
	"fmt"

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
)

// Driver names accepted by OpenSource.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Source reads and writes exercise snapshots.
type Source interface {
	Upsert(ctx context.Context, s *exercise.Snapshot) error
	Latest(ctx context.Context) (*exercise.Snapshot, error)
	Close() error
}

// Options selects and configures a Source.
type Options struct {
	Driver     string
	SQLitePath string
	RedisAddr  string
	RedisKey   string
}

// OpenSource opens the source named by opts.Driver.
func OpenSource(ctx context.Context, opts Options) (Source, error) {
	switch opts.Driver {
	case DriverSQLite:
		db, err := Open(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	case DriverRedis:
		r, err := ConnectRedis(ctx, opts.RedisAddr, opts.RedisKey)
		if err != nil {
			return nil, err
		}
		return r, nil
	case DriverMemory:
		return exercise.NewMemorySource(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", opts.Driver)
	}
}

var (
	_ Source = (*DB)(nil)
	_ Source = (*RedisSource)(nil)
	_ Source = (*exercise.MemorySource)(nil)
)
