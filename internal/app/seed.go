package app

import (
	"context"
	"fmt"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/logger"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/batch"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

const seedFlushAt = 400

// Seed writes users and roles into the source tables keyed with legacy,
// so a migration has something to convert. Each user gets one claim, one
// login and one membership of the first role.
func (a *App) Seed(ctx context.Context, legacy keys.Scheme, users int, roles []string) (int, error) {
	written := 0
	w := batch.New(a.source.Users)
	flush := func(force bool) error {
		if !force && w.Len() < seedFlushAt {
			return nil
		}
		n := w.Len()
		if _, err := w.SubmitBatchParallel(ctx, a.cfg.Migration.Parallelism); err != nil {
			return err
		}
		written += n
		return nil
	}

	for i := 0; i < users; i++ {
		id := legacy.NewUserID()
		pk := legacy.PartitionKeyUser(id)
		meta := func(rk string) models.Meta {
			return models.Meta{PartitionKey: pk, RowKey: rk, ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()}
		}
		recs := []models.Record{
			&models.User{
				Meta:     meta(legacy.RowKeyUser(id)),
				ID:       id,
				UserName: fmt.Sprintf("user%06d", i),
				Email:    fmt.Sprintf("user%06d@example.com", i),
			},
			&models.UserClaim{Meta: meta(legacy.RowKeyUserClaim("seq", fmt.Sprint(i))), UserID: id, ClaimType: "seq", ClaimValue: fmt.Sprint(i)},
			&models.UserLogin{Meta: meta(legacy.RowKeyUserLogin("seed", id)), UserID: id, LoginProvider: "seed", ProviderKey: id},
		}
		if len(roles) > 0 {
			recs = append(recs, &models.UserRole{Meta: meta(legacy.RowKeyUserRole(roles[0])), UserID: id, RoleName: roles[0]})
		}
		for _, rec := range recs {
			w.UpsertEntity(rec.Entity(), table.Replace)
		}
		if err := flush(false); err != nil {
			return written, err
		}
	}
	if err := flush(true); err != nil {
		return written, err
	}

	rw := batch.New(a.source.Roles)
	for i, name := range roles {
		role := &models.Role{
			Meta: models.Meta{PartitionKey: legacy.PartitionKeyRole(name), RowKey: legacy.RowKeyRole(name), ETag: table.WildcardETag, KeyVersion: legacy.KeyVersion()},
			ID:   fmt.Sprintf("role-%d", i),
			Name: name,
		}
		rw.UpsertEntity(role.Entity(), table.Replace)
	}
	n := rw.Len()
	if _, err := rw.SubmitBatch(ctx); err != nil {
		return written, err
	}
	written += n

	logger.Info("seed_done", "scheme", legacy.Name(), "users", users, "roles", len(roles), "rows", written)
	return written, nil
}
