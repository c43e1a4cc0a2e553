// Package models maps table entities to typed identity records. Fields a
// record does not know are kept in Extra and written back unchanged.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

var ErrUnknownKind = errors.New("entity kind not recognised")

type Kind string

const (
	KindUser      Kind = "user"
	KindUserClaim Kind = "user_claim"
	KindUserLogin Kind = "user_login"
	KindUserRole  Kind = "user_role"
	KindUserToken Kind = "user_token"
	KindRole      Kind = "role"
	KindRoleClaim Kind = "role_claim"
	KindIndex     Kind = "index"
)

// Meta is the addressing and bookkeeping every record carries.
type Meta struct {
	PartitionKey string
	RowKey       string
	ETag         string
	Timestamp    time.Time
	KeyVersion   float64
	Extra        table.Properties
}

func (m *Meta) meta() *Meta { return m }

func readMeta(e *table.Entity, r *reader) Meta {
	return Meta{
		PartitionKey: e.PartitionKey,
		RowKey:       e.RowKey,
		ETag:         e.ETag,
		Timestamp:    e.Timestamp,
		KeyVersion:   r.float(FieldKeyVersion),
	}
}

// Record is one of the typed kinds below.
type Record interface {
	Kind() Kind
	Entity() *table.Entity
	meta() *Meta
}

// MetaOf exposes a record's addressing for callers that re-key it.
func MetaOf(r Record) *Meta { return r.meta() }

// Rekey moves a record to a new address at a new version. The ETag becomes
// the wildcard so the write overwrites whatever is there.
func Rekey(r Record, partitionKey, rowKey string, version float64) {
	m := r.meta()
	m.PartitionKey = partitionKey
	m.RowKey = rowKey
	m.KeyVersion = version
	m.ETag = table.WildcardETag
}

type User struct {
	Meta
	ID                   string
	UserName             string
	Email                string
	EmailConfirmed       bool
	PasswordHash         string
	SecurityStamp        string
	ConcurrencyStamp     string
	PhoneNumber          string
	PhoneNumberConfirmed bool
	TwoFactorEnabled     bool
	LockoutEnd           *time.Time
	LockoutEnabled       bool
	AccessFailedCount    int32
}

func (*User) Kind() Kind { return KindUser }

func (u *User) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldID, u.ID)
	w.str(FieldUserName, u.UserName)
	w.optStr(FieldEmail, u.Email)
	w.boolean(FieldEmailConfirmed, u.EmailConfirmed)
	w.optStr(FieldPasswordHash, u.PasswordHash)
	w.optStr(FieldSecurityStamp, u.SecurityStamp)
	w.optStr(FieldConcurrencyStamp, u.ConcurrencyStamp)
	w.optStr(FieldPhoneNumber, u.PhoneNumber)
	w.boolean(FieldPhoneNumberConfirmed, u.PhoneNumberConfirmed)
	w.boolean(FieldTwoFactorEnabled, u.TwoFactorEnabled)
	w.time(FieldLockoutEnd, u.LockoutEnd)
	w.boolean(FieldLockoutEnabled, u.LockoutEnabled)
	w.int32(FieldAccessFailedCount, u.AccessFailedCount)
	return w.finish(&u.Meta)
}

type UserClaim struct {
	Meta
	UserID     string
	ClaimType  string
	ClaimValue string
}

func (*UserClaim) Kind() Kind { return KindUserClaim }

func (c *UserClaim) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldUserID, c.UserID)
	w.str(FieldClaimType, c.ClaimType)
	w.str(FieldClaimValue, c.ClaimValue)
	return w.finish(&c.Meta)
}

type UserLogin struct {
	Meta
	UserID              string
	LoginProvider       string
	ProviderKey         string
	ProviderDisplayName string
}

func (*UserLogin) Kind() Kind { return KindUserLogin }

func (l *UserLogin) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldUserID, l.UserID)
	w.str(FieldLoginProvider, l.LoginProvider)
	w.str(FieldProviderKey, l.ProviderKey)
	w.optStr(FieldProviderDisplayName, l.ProviderDisplayName)
	return w.finish(&l.Meta)
}

type UserRole struct {
	Meta
	UserID   string
	RoleName string
}

func (*UserRole) Kind() Kind { return KindUserRole }

func (r *UserRole) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldUserID, r.UserID)
	w.str(FieldRoleName, r.RoleName)
	return w.finish(&r.Meta)
}

type UserToken struct {
	Meta
	UserID        string
	LoginProvider string
	Name          string
	Value         string
}

func (*UserToken) Kind() Kind { return KindUserToken }

func (t *UserToken) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldUserID, t.UserID)
	w.str(FieldLoginProvider, t.LoginProvider)
	w.str(FieldName, t.Name)
	w.optStr(FieldValue, t.Value)
	return w.finish(&t.Meta)
}

type Role struct {
	Meta
	ID   string
	Name string
}

func (*Role) Kind() Kind { return KindRole }

func (r *Role) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldID, r.ID)
	w.str(FieldName, r.Name)
	return w.finish(&r.Meta)
}

type RoleClaim struct {
	Meta
	RoleID     string
	RoleName   string
	ClaimType  string
	ClaimValue string
}

func (*RoleClaim) Kind() Kind { return KindRoleClaim }

func (c *RoleClaim) Entity() *table.Entity {
	w := &writer{}
	w.optStr(FieldRoleID, c.RoleID)
	w.str(FieldRoleName, c.RoleName)
	w.str(FieldClaimType, c.ClaimType)
	w.str(FieldClaimValue, c.ClaimValue)
	return w.finish(&c.Meta)
}

// IndexRecord maps a derived secondary key (its partition key) to the user
// that holds it. Its row key is the user's row key and Id is the user id,
// so one point read both proves uniqueness and locates the owner.
type IndexRecord struct {
	Meta
	UserID string
}

func (*IndexRecord) Kind() Kind { return KindIndex }

func (x *IndexRecord) Entity() *table.Entity {
	w := &writer{}
	w.str(FieldID, x.UserID)
	return w.finish(&x.Meta)
}

func NewIndexRecord(partitionKey, userRowKey, userID string, version float64) *IndexRecord {
	return &IndexRecord{
		Meta: Meta{
			PartitionKey: partitionKey,
			RowKey:       userRowKey,
			ETag:         table.WildcardETag,
			KeyVersion:   version,
		},
		UserID: userID,
	}
}

// KindOf classifies an entity by its key prefixes alone.
func KindOf(e *table.Entity) (Kind, error) {
	pkKind := keys.KindOf(e.PartitionKey)
	switch keys.KindOf(e.RowKey) {
	case keys.PrefixUser:
		switch pkKind {
		case keys.PrefixUserNameIndex, keys.PrefixEmailIndex, keys.PrefixLogin:
			return KindIndex, nil
		}
		return KindUser, nil
	case keys.PrefixClaim:
		return KindUserClaim, nil
	case keys.PrefixLogin:
		return KindUserLogin, nil
	case keys.PrefixToken:
		return KindUserToken, nil
	case keys.PrefixRole:
		if pkKind == keys.PrefixUser {
			return KindUserRole, nil
		}
		return KindRole, nil
	case keys.PrefixRoleClaim:
		return KindRoleClaim, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKind, e.Key())
}

// Decode builds the typed record for an entity.
func Decode(e *table.Entity) (Record, error) {
	kind, err := KindOf(e)
	if err != nil {
		return nil, err
	}
	r := newReader(e.Properties)
	m := readMeta(e, r)
	var rec Record
	switch kind {
	case KindUser:
		rec = &User{
			Meta:                 m,
			ID:                   r.str(FieldID),
			UserName:             r.str(FieldUserName),
			Email:                r.str(FieldEmail),
			EmailConfirmed:       r.boolean(FieldEmailConfirmed),
			PasswordHash:         r.str(FieldPasswordHash),
			SecurityStamp:        r.str(FieldSecurityStamp),
			ConcurrencyStamp:     r.str(FieldConcurrencyStamp),
			PhoneNumber:          r.str(FieldPhoneNumber),
			PhoneNumberConfirmed: r.boolean(FieldPhoneNumberConfirmed),
			TwoFactorEnabled:     r.boolean(FieldTwoFactorEnabled),
			LockoutEnd:           r.time(FieldLockoutEnd),
			LockoutEnabled:       r.boolean(FieldLockoutEnabled),
			AccessFailedCount:    r.int32(FieldAccessFailedCount),
		}
	case KindUserClaim:
		rec = &UserClaim{Meta: m, UserID: r.str(FieldUserID), ClaimType: r.str(FieldClaimType), ClaimValue: r.str(FieldClaimValue)}
	case KindUserLogin:
		rec = &UserLogin{
			Meta:                m,
			UserID:              r.str(FieldUserID),
			LoginProvider:       r.str(FieldLoginProvider),
			ProviderKey:         r.str(FieldProviderKey),
			ProviderDisplayName: r.str(FieldProviderDisplayName),
		}
	case KindUserRole:
		rec = &UserRole{Meta: m, UserID: r.str(FieldUserID), RoleName: r.str(FieldRoleName)}
	case KindUserToken:
		rec = &UserToken{
			Meta:          m,
			UserID:        r.str(FieldUserID),
			LoginProvider: r.str(FieldLoginProvider),
			Name:          r.str(FieldName),
			Value:         r.str(FieldValue),
		}
	case KindRole:
		rec = &Role{Meta: m, ID: r.str(FieldID), Name: r.str(FieldName)}
	case KindRoleClaim:
		rec = &RoleClaim{
			Meta:       m,
			RoleID:     r.str(FieldRoleID),
			RoleName:   r.str(FieldRoleName),
			ClaimType:  r.str(FieldClaimType),
			ClaimValue: r.str(FieldClaimValue),
		}
	case KindIndex:
		rec = &IndexRecord{Meta: m, UserID: r.str(FieldID)}
	}
	if len(r.rest) > 0 {
		rec.meta().Extra = r.rest
	}
	return rec, nil
}

// DecodeAs decodes and asserts the record type.
func DecodeAs[T Record](e *table.Entity) (T, error) {
	var zero T
	rec, err := Decode(e)
	if err != nil {
		return zero, err
	}
	typed, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %s", ErrUnknownKind, e.Key(), rec.Kind())
	}
	return typed, nil
}
