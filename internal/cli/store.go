package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/capgate/internal/config"
	"github.com/roach88/capgate/internal/lease"
	"github.com/roach88/capgate/internal/store"
	"github.com/roach88/capgate/internal/store/filestore"
	"github.com/roach88/capgate/internal/store/redisstore"
)

// openedStore is a lease store plus its release function.
type openedStore struct {
	lease.Store
	close func() error
}

func (s openedStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openLeaseStore opens the store named by cfg.Driver.
func openLeaseStore(ctx context.Context, cfg config.Store, logger *slog.Logger) (openedStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return openedStore{Store: lease.NewMemoryStore()}, nil
	case config.DriverSQLite:
		st, err := store.Open(cfg.Path, store.WithLogger(logger))
		if err != nil {
			return openedStore{}, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return openedStore{Store: st, close: st.Close}, nil
	case config.DriverFile:
		st, err := filestore.Open(cfg.Path, filestore.WithLogger(logger))
		if err != nil {
			return openedStore{}, fmt.Errorf("open file store %s: %w", cfg.Path, err)
		}
		return openedStore{Store: st, close: st.Close}, nil
	case config.DriverRedis:
		st := redisstore.New(redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			KeyTTL:   time.Duration(cfg.RedisKeyTTLSeconds) * time.Second,
			Logger:   logger,
		})
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return openedStore{}, fmt.Errorf("connect redis store %s: %w", cfg.RedisAddr, err)
		}
		return openedStore{Store: st, close: st.Close}, nil
	}
	return openedStore{}, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
