package migrations

import (
	"context"
	"fmt"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/indexes"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// usersStrategy moves each user and everything in its partition to the
// partition the target scheme derives, then rebuilds the user's indexes.
type usersStrategy struct{ base }

func (*usersStrategy) Name() string { return KindUsers }

func (*usersStrategy) versionFiltered() bool { return true }

func (*usersStrategy) SourceTable(source Tables) table.Table { return source.Users }

func (s *usersStrategy) SourceQuery() string {
	return filter.And(
		filter.PrefixRange(filter.PartitionKey, keys.PrefixUser),
		filter.PrefixRange(filter.RowKey, keys.PrefixUser),
		s.stale(),
	)
}

func (*usersStrategy) ShouldConvert(e *table.Entity) bool {
	return e.Properties.String(models.FieldID) != ""
}

func (s *usersStrategy) ProcessPage(ctx context.Context, target, source Tables, page []*table.Entity, parallelism int,
	onSuccess func(string), onFailure func(string, error)) {
	inPlace := target.Same(source)
	forEach(ctx, page, parallelism, func(ctx context.Context, e *table.Entity) error {
		return s.convert(ctx, target, source, e, inPlace)
	}, onSuccess, onFailure)
}

func (s *usersStrategy) convert(ctx context.Context, target, source Tables, e *table.Entity, inPlace bool) error {
	u, err := models.DecodeAs[*models.User](e)
	if err != nil {
		return err
	}
	dependents, err := readPartition(ctx, source.Users, e.PartitionKey,
		filter.NotEqual(filter.RowKey, filter.String(e.RowKey)))
	if err != nil {
		return err
	}

	pk := s.scheme.PartitionKeyUser(u.ID)
	models.Rekey(u, pk, s.scheme.RowKeyUser(u.ID), s.target())
	rows := []moved{{from: e, to: u}}
	var logins []*models.UserLogin
	for _, d := range dependents {
		rec, rk, err := s.rekeyDependent(d)
		if err != nil {
			return fmt.Errorf("dependent %s: %w", d.Key(), err)
		}
		if rec == nil {
			// already converted by an earlier run into this partition
			continue
		}
		models.Rekey(rec, pk, rk, s.target())
		if l, ok := rec.(*models.UserLogin); ok {
			logins = append(logins, l)
		}
		rows = append(rows, moved{from: d, to: rec})
	}

	if err := writeMoved(ctx, target.Users, rows, s.opts.DeleteStale && inPlace); err != nil {
		return err
	}
	return upsertIndex(ctx, target.Index, indexes.ForUser(s.scheme, u, logins))
}

// rekeyDependent decodes a row of the user's partition and returns its new
// row key. Rows already at the target version are skipped with a nil record.
func (s *usersStrategy) rekeyDependent(d *table.Entity) (models.Record, string, error) {
	rec, err := models.Decode(d)
	if err != nil {
		return nil, "", err
	}
	if models.MetaOf(rec).KeyVersion >= s.target() {
		return nil, "", nil
	}
	switch r := rec.(type) {
	case *models.UserClaim:
		return r, s.scheme.RowKeyUserClaim(r.ClaimType, r.ClaimValue), nil
	case *models.UserLogin:
		return r, s.scheme.RowKeyUserLogin(r.LoginProvider, r.ProviderKey), nil
	case *models.UserRole:
		return r, s.scheme.RowKeyUserRole(r.RoleName), nil
	case *models.UserToken:
		return r, s.scheme.RowKeyUserToken(r.LoginProvider, r.Name), nil
	}
	return nil, "", fmt.Errorf("%w: %s in a user partition", models.ErrUnknownKind, rec.Kind())
}
