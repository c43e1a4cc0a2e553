package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

func TestKindOf(t *testing.T) {
	s := keys.NewSHA256()
	pk := s.PartitionKeyUser("u1")
	cases := []struct {
		pk, rk string
		want   Kind
	}{
		{pk, s.RowKeyUser("u1"), KindUser},
		{pk, s.RowKeyUserClaim("t", "v"), KindUserClaim},
		{pk, s.RowKeyUserLogin("p", "k"), KindUserLogin},
		{pk, s.RowKeyUserRole("admin"), KindUserRole},
		{pk, s.RowKeyUserToken("p", "n"), KindUserToken},
		{s.PartitionKeyRole("admin"), s.RowKeyRole("admin"), KindRole},
		{s.PartitionKeyRole("admin"), s.RowKeyRoleClaim("admin", "t", "v"), KindRoleClaim},
		{s.PartitionKeyEmail("a@b"), s.RowKeyUser("u1"), KindIndex},
		{s.PartitionKeyUserName("a"), s.RowKeyUser("u1"), KindIndex},
		{s.PartitionKeyLogin("p", "k"), s.RowKeyUser("u1"), KindIndex},
	}
	for _, c := range cases {
		got, err := KindOf(&table.Entity{PartitionKey: c.pk, RowKey: c.rk})
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%s/%s", c.pk, c.rk)
	}
	_, err := KindOf(&table.Entity{PartitionKey: "x", RowKey: "y"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestUserRoundTripKeepsExtra(t *testing.T) {
	lockout := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &table.Entity{
		PartitionKey: "U_ABC",
		RowKey:       "U_ABC",
		ETag:         `W/"x"`,
		Properties: table.Properties{
			{Name: "LegacyFlag", Value: "keep-me"},
			{Name: FieldID, Value: "abc"},
			{Name: FieldUserName, Value: "Alice"},
			{Name: FieldEmail, Value: "alice@example.com"},
			{Name: FieldLockoutEnd, Value: lockout},
			{Name: FieldAccessFailedCount, Value: int32(2)},
			{Name: FieldKeyVersion, Value: 1.0},
			{Name: "Nickname", Value: "al"},
		},
	}
	u, err := DecodeAs[*User](in)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.ID)
	assert.Equal(t, "Alice", u.UserName)
	assert.Equal(t, 1.0, u.KeyVersion)
	require.NotNil(t, u.LockoutEnd)
	assert.True(t, lockout.Equal(*u.LockoutEnd))
	assert.Equal(t, table.Properties{{Name: "LegacyFlag", Value: "keep-me"}, {Name: "Nickname", Value: "al"}}, u.Extra)

	Rekey(u, "U_new", "U_new", 8.0)
	out := u.Entity()
	assert.Equal(t, "U_new", out.PartitionKey)
	assert.Equal(t, table.WildcardETag, out.ETag)
	assert.Equal(t, 8.0, out.Properties.Float(FieldKeyVersion))
	assert.Equal(t, "keep-me", out.Properties.String("LegacyFlag"))
	assert.Equal(t, "alice@example.com", out.Properties.String(FieldEmail))

	again, err := DecodeAs[*User](out)
	require.NoError(t, err)
	assert.Equal(t, u.Extra, again.Extra)
	assert.Equal(t, u.AccessFailedCount, again.AccessFailedCount)
}

// TestUserKeepsMistypedFields reads known fields stored with foreign types
// and expects the rewritten entity to carry them as they were.
func TestUserKeepsMistypedFields(t *testing.T) {
	in := &table.Entity{
		PartitionKey: "U_ABC",
		RowKey:       "U_ABC",
		Properties: table.Properties{
			{Name: FieldID, Value: "abc"},
			{Name: FieldLockoutEnd, Value: "2030-01-01T00:00:00Z"},
			{Name: FieldAccessFailedCount, Value: int64(1) << 40},
			{Name: FieldEmailConfirmed, Value: "true"},
			{Name: FieldKeyVersion, Value: 1.0},
		},
	}
	u, err := DecodeAs[*User](in)
	require.NoError(t, err)
	assert.Nil(t, u.LockoutEnd)
	assert.Zero(t, u.AccessFailedCount)

	Rekey(u, "U_NEW", "U_NEW", 4.0)
	out := u.Entity()
	v, ok := out.Properties.Get(FieldLockoutEnd)
	require.True(t, ok)
	assert.Equal(t, "2030-01-01T00:00:00Z", v)
	v, _ = out.Properties.Get(FieldAccessFailedCount)
	assert.Equal(t, int64(1)<<40, v)
	v, _ = out.Properties.Get(FieldEmailConfirmed)
	assert.Equal(t, "true", v)
	assert.Equal(t, 4.0, out.Properties.Float(FieldKeyVersion))

	// an int64 count that fits is read but still written back as int64
	in.Properties.Set(FieldAccessFailedCount, int64(3))
	u, err = DecodeAs[*User](in)
	require.NoError(t, err)
	assert.Equal(t, int32(3), u.AccessFailedCount)
	v, _ = u.Entity().Properties.Get(FieldAccessFailedCount)
	assert.Equal(t, int64(3), v)
}

func TestDecodeAsWrongType(t *testing.T) {
	_, err := DecodeAs[*Role](&table.Entity{PartitionKey: "U_a", RowKey: "U_a"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestIndexRecord(t *testing.T) {
	x := NewIndexRecord("E_hash", "U_id", "id", 4.0)
	e := x.Entity()
	assert.Equal(t, "E_hash", e.PartitionKey)
	assert.Equal(t, "U_id", e.RowKey)
	assert.Equal(t, "id", e.Properties.String(FieldID))

	back, err := DecodeAs[*IndexRecord](e)
	require.NoError(t, err)
	assert.Equal(t, "id", back.UserID)
	assert.Equal(t, 4.0, back.KeyVersion)
}
