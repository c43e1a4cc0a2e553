package app

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/config"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/memtable"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pebbletable"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/redistable"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// openStore opens the backend named by sc. The returned close func
// releases everything openStore acquired.
func openStore(ctx context.Context, section string, sc config.StoreConfig) (table.Store, func() error, error) {
	switch sc.Backend {
	case config.BackendMemory:
		logger.Info("store_opened", "section", section, "backend", sc.Backend)
		s := memtable.NewStore()
		return s, s.Close, nil

	case config.BackendPebble:
		s, err := pebbletable.Open(sc.Pebble.Path, pebbletable.Options{
			CacheSize: sc.Pebble.CacheSize.Int64(),
			NoSync:    sc.Pebble.NoSync,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", section, err)
		}
		logger.Info("store_opened", "section", section, "backend", sc.Backend,
			"path", sc.Pebble.Path, "cache", humanize.IBytes(uint64(sc.Pebble.CacheSize.Int64())), "no_sync", sc.Pebble.NoSync)
		return s, s.Close, nil

	case config.BackendRedis:
		if sc.Redis.URL != "" {
			s, err := redistable.Open(ctx, redistable.Options{URL: sc.Redis.URL, Namespace: sc.Redis.Namespace})
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", section, err)
			}
			logger.Info("store_opened", "section", section, "backend", sc.Backend, "namespace", sc.Redis.Namespace)
			return s, s.Close, nil
		}
		client := redis.NewClient(&redis.Options{Addr: sc.Redis.Addr, Password: sc.Redis.Password, DB: sc.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: redis ping %s: %w", section, sc.Redis.Addr, err)
		}
		logger.Info("store_opened", "section", section, "backend", sc.Backend, "addr", sc.Redis.Addr, "namespace", sc.Redis.Namespace)
		return redistable.NewStore(client, sc.Redis.Namespace), client.Close, nil
	}
	return nil, nil, fmt.Errorf("%s: unknown backend %q", section, sc.Backend)
}

func tablesOf(s table.Store, tc config.TablesConfig) migrations.Tables {
	return migrations.Tables{
		Users: s.Table(tc.UsersName()),
		Roles: s.Table(tc.RolesName()),
		Index: s.Table(tc.IndexName()),
	}
}
