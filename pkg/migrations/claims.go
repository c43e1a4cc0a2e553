package migrations

import (
	"context"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// claimsStrategy re-keys user claims within their own partition.
type claimsStrategy struct{ base }

func (*claimsStrategy) Name() string { return KindClaims }

func (*claimsStrategy) versionFiltered() bool { return true }

func (*claimsStrategy) SourceTable(source Tables) table.Table { return source.Users }

func (s *claimsStrategy) SourceQuery() string {
	return filter.And(
		filter.PrefixRange(filter.PartitionKey, keys.PrefixUser),
		filter.PrefixRange(filter.RowKey, keys.PrefixClaim),
		s.stale(),
	)
}

func (s *claimsStrategy) ShouldConvert(e *table.Entity) bool {
	value := e.Properties.String(models.FieldClaimValue)
	if value == "" {
		return false
	}
	return e.RowKey != s.scheme.RowKeyUserClaim(e.Properties.String(models.FieldClaimType), value)
}

func (s *claimsStrategy) ProcessPage(ctx context.Context, target, source Tables, page []*table.Entity, parallelism int,
	onSuccess func(string), onFailure func(string, error)) {
	deleteStale := s.opts.DeleteStale && target.Same(source)
	forEach(ctx, page, parallelism, func(ctx context.Context, e *table.Entity) error {
		c, err := models.DecodeAs[*models.UserClaim](e)
		if err != nil {
			return err
		}
		models.Rekey(c, e.PartitionKey, s.scheme.RowKeyUserClaim(c.ClaimType, c.ClaimValue), s.target())
		return writeMoved(ctx, target.Users, []moved{{from: e, to: c}}, deleteStale)
	}, onSuccess, onFailure)
}
