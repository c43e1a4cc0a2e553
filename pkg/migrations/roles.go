package migrations

import (
	"context"
	"fmt"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/models"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table/filter"
)

// rolesStrategy re-keys each role and the claims stored beside it.
type rolesStrategy struct{ base }

func (*rolesStrategy) Name() string { return KindRoles }

func (*rolesStrategy) versionFiltered() bool { return true }

func (*rolesStrategy) SourceTable(source Tables) table.Table { return source.Roles }

func (s *rolesStrategy) SourceQuery() string {
	return filter.And(filter.PrefixRange(filter.RowKey, keys.PrefixRole), s.stale())
}

func (*rolesStrategy) ShouldConvert(e *table.Entity) bool {
	return e.Properties.String(models.FieldName) != ""
}

func (s *rolesStrategy) ProcessPage(ctx context.Context, target, source Tables, page []*table.Entity, parallelism int,
	onSuccess func(string), onFailure func(string, error)) {
	inPlace := target.Same(source)
	forEach(ctx, page, parallelism, func(ctx context.Context, e *table.Entity) error {
		return s.convert(ctx, target, source, e, inPlace)
	}, onSuccess, onFailure)
}

func (s *rolesStrategy) convert(ctx context.Context, target, source Tables, e *table.Entity, inPlace bool) error {
	role, err := models.DecodeAs[*models.Role](e)
	if err != nil {
		return err
	}
	claims, err := readPartition(ctx, source.Roles, e.PartitionKey, filter.And(
		filter.PrefixRange(filter.RowKey, keys.PrefixRoleClaim),
		filter.Equal(models.FieldRoleID, filter.String(role.ID)),
		s.stale(),
	))
	if err != nil {
		return err
	}

	pk := s.scheme.PartitionKeyRole(role.Name)
	models.Rekey(role, pk, s.scheme.RowKeyRole(role.Name), s.target())
	rows := []moved{{from: e, to: role}}
	for _, c := range claims {
		rc, err := models.DecodeAs[*models.RoleClaim](c)
		if err != nil {
			return fmt.Errorf("role claim %s: %w", c.Key(), err)
		}
		rc.RoleName = role.Name
		models.Rekey(rc, pk, s.scheme.RowKeyRoleClaim(role.Name, rc.ClaimType, rc.ClaimValue), s.target())
		rows = append(rows, moved{from: c, to: rc})
	}
	return writeMoved(ctx, target.Roles, rows, s.opts.DeleteStale && inPlace)
}
