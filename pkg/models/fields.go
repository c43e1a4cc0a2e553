package models

import (
	"math"
	"time"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

// property names as persisted
const (
	FieldID                   = "Id"
	FieldUserID               = "UserId"
	FieldRoleID               = "RoleId"
	FieldUserName             = "UserName"
	FieldEmail                = "Email"
	FieldEmailConfirmed       = "EmailConfirmed"
	FieldPasswordHash         = "PasswordHash"
	FieldSecurityStamp        = "SecurityStamp"
	FieldConcurrencyStamp     = "ConcurrencyStamp"
	FieldPhoneNumber          = "PhoneNumber"
	FieldPhoneNumberConfirmed = "PhoneNumberConfirmed"
	FieldTwoFactorEnabled     = "TwoFactorEnabled"
	FieldLockoutEnd           = "LockoutEndDateUtc"
	FieldLockoutEnabled       = "LockoutEnabled"
	FieldAccessFailedCount    = "AccessFailedCount"
	FieldClaimType            = "ClaimType"
	FieldClaimValue           = "ClaimValue"
	FieldLoginProvider        = "LoginProvider"
	FieldProviderKey          = "ProviderKey"
	FieldProviderDisplayName  = "ProviderDisplayName"
	FieldRoleName             = "RoleName"
	FieldName                 = "Name"
	FieldValue                = "Value"
	FieldKeyVersion           = "KeyVersion"
)

// reader takes known fields out of a property list; what is left over
// becomes the record's Extra. A known field stored with a type other than
// the one the record uses is read where it converts cleanly but stays in
// the leftovers, so writing the record puts it back unchanged.
type reader struct {
	rest table.Properties
}

func newReader(p table.Properties) *reader {
	return &reader{rest: p.Clone()}
}

func (r *reader) take(name string) (any, bool) {
	v, ok := r.rest.Get(name)
	if ok {
		r.rest.Delete(name)
	}
	return v, ok
}

func (r *reader) str(name string) string {
	v, _ := r.rest.Get(name)
	s, ok := v.(string)
	if ok {
		r.rest.Delete(name)
	}
	return s
}

func (r *reader) boolean(name string) bool {
	v, _ := r.rest.Get(name)
	b, ok := v.(bool)
	if ok {
		r.rest.Delete(name)
	}
	return b
}

func (r *reader) int32(name string) int32 {
	v, _ := r.rest.Get(name)
	switch n := v.(type) {
	case int32:
		r.rest.Delete(name)
		return n
	case int64:
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n)
		}
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n)
		}
	}
	return 0
}

// float always consumes the property: the key version it reads is
// rewritten by every migration.
func (r *reader) float(name string) float64 {
	v, _ := r.take(name)
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func (r *reader) time(name string) *time.Time {
	v, _ := r.rest.Get(name)
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	r.rest.Delete(name)
	return &t
}

// writer builds a property list in a fixed order. Empty optional strings
// are left out.
type writer struct {
	props table.Properties
}

func (w *writer) str(name, v string) {
	w.props = append(w.props, table.Property{Name: name, Value: v})
}

func (w *writer) optStr(name, v string) {
	if v != "" {
		w.str(name, v)
	}
}

func (w *writer) boolean(name string, v bool) {
	w.props = append(w.props, table.Property{Name: name, Value: v})
}

func (w *writer) int32(name string, v int32) {
	w.props = append(w.props, table.Property{Name: name, Value: v})
}

func (w *writer) time(name string, v *time.Time) {
	if v != nil {
		w.props = append(w.props, table.Property{Name: name, Value: *v})
	}
}

func (w *writer) finish(m *Meta) *table.Entity {
	w.props = append(w.props, table.Property{Name: FieldKeyVersion, Value: m.KeyVersion})
	for _, p := range m.Extra {
		w.props.Set(p.Name, p.Value)
	}
	return &table.Entity{
		PartitionKey: m.PartitionKey,
		RowKey:       m.RowKey,
		ETag:         m.ETag,
		Timestamp:    m.Timestamp,
		Properties:   w.props,
	}
}
