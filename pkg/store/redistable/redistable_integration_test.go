//go:build integration

package redistable

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations/migrationtest"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/tabletest"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

func TestConformance(t *testing.T) {
	client := startRedis(t)
	var n atomic.Int64
	tabletest.Run(t, func(t *testing.T) table.Store {
		// a fresh namespace per subtest keeps them isolated on one server
		return NewStore(client, fmt.Sprintf("t%d:", n.Add(1)))
	})
}

func TestMigrations(t *testing.T) {
	client := startRedis(t)
	var n atomic.Int64
	migrationtest.Run(t, func(t *testing.T) table.Store {
		return NewStore(client, fmt.Sprintf("m%d:", n.Add(1)))
	})
}

func TestScanCrossesChunks(t *testing.T) {
	ctx := context.Background()
	s := NewStore(startRedis(t), "")
	tbl := s.Table("Users")
	if err := tbl.CreateIfNotExists(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < scanChunk*2+10; i++ {
		e := &table.Entity{PartitionKey: fmt.Sprintf("U_%04d", i), RowKey: fmt.Sprintf("U_%04d", i)}
		if _, err := tbl.Upsert(ctx, e, table.Replace); err != nil {
			t.Fatal(err)
		}
	}
	page, err := tbl.Query(ctx, table.Query{PageSize: table.MaxPageSize})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Entities) != scanChunk*2+10 || page.ContinuationToken != "" {
		t.Fatalf("got %d rows, token %q", len(page.Entities), page.ContinuationToken)
	}
}
