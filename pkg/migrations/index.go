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

// userIndexStrategy rebuilds one attribute index from the user rows. The
// user rows themselves are left alone.
type userIndexStrategy struct {
	base
	name  string
	field string
	build func(keys.Scheme, *models.User) *models.IndexRecord
}

func newEmailIndex(s keys.Scheme, o Options) *userIndexStrategy {
	return &userIndexStrategy{base: base{scheme: s, opts: o}, name: KindEmailIndex, field: models.FieldEmail, build: indexes.Email}
}

func newUserNameIndex(s keys.Scheme, o Options) *userIndexStrategy {
	return &userIndexStrategy{base: base{scheme: s, opts: o}, name: KindUserNameIndex, field: models.FieldUserName, build: indexes.UserName}
}

func (s *userIndexStrategy) Name() string { return s.name }

func (*userIndexStrategy) SourceTable(source Tables) table.Table { return source.Users }

func (*userIndexStrategy) SourceQuery() string {
	return filter.And(
		filter.PrefixRange(filter.PartitionKey, keys.PrefixUser),
		filter.PrefixRange(filter.RowKey, keys.PrefixUser),
	)
}

func (s *userIndexStrategy) ShouldConvert(e *table.Entity) bool {
	return e.Properties.String(s.field) != ""
}

func (s *userIndexStrategy) ProcessPage(ctx context.Context, target, _ Tables, page []*table.Entity, parallelism int,
	onSuccess func(string), onFailure func(string, error)) {
	forEach(ctx, page, parallelism, func(ctx context.Context, e *table.Entity) error {
		u, err := models.DecodeAs[*models.User](e)
		if err != nil {
			return err
		}
		return upsertIndex(ctx, target.Index, []*models.IndexRecord{s.build(s.scheme, u)})
	}, onSuccess, onFailure)
}

// loginIndexStrategy rebuilds login indexes from the login rows stored in
// user partitions.
type loginIndexStrategy struct{ base }

func (*loginIndexStrategy) Name() string { return KindLoginIndex }

func (*loginIndexStrategy) SourceTable(source Tables) table.Table { return source.Users }

func (*loginIndexStrategy) SourceQuery() string {
	return filter.And(
		filter.PrefixRange(filter.PartitionKey, keys.PrefixUser),
		filter.PrefixRange(filter.RowKey, keys.PrefixLogin),
	)
}

func (*loginIndexStrategy) ShouldConvert(e *table.Entity) bool {
	return e.Properties.String(models.FieldLoginProvider) != "" && e.Properties.String(models.FieldProviderKey) != ""
}

func (s *loginIndexStrategy) ProcessPage(ctx context.Context, target, _ Tables, page []*table.Entity, parallelism int,
	onSuccess func(string), onFailure func(string, error)) {
	forEach(ctx, page, parallelism, func(ctx context.Context, e *table.Entity) error {
		l, err := models.DecodeAs[*models.UserLogin](e)
		if err != nil {
			return err
		}
		if l.UserID == "" {
			return fmt.Errorf("login %s has no %s", e.Key(), models.FieldUserID)
		}
		return upsertIndex(ctx, target.Index, []*models.IndexRecord{indexes.Login(s.scheme, l.UserID, l)})
	}, onSuccess, onFailure)
}
