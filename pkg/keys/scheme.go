package keys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrUnknownScheme = errors.New("unknown key scheme")

// Scheme derives every partition and row key used by the identity tables.
// Implementations are pure and safe for concurrent use.
type Scheme interface {
	Name() string
	KeyVersion() float64

	NewUserID() string

	PartitionKeyUser(userID string) string
	RowKeyUser(userID string) string
	PartitionKeyUserName(userName string) string
	PartitionKeyEmail(email string) string
	PartitionKeyLogin(provider, providerKey string) string

	RowKeyUserClaim(claimType, claimValue string) string
	RowKeyUserLogin(provider, providerKey string) string
	RowKeyUserRole(roleName string) string
	RowKeyUserToken(provider, name string) string

	PartitionKeyRole(roleName string) string
	RowKeyRole(roleName string) string
	RowKeyRoleClaim(roleName, claimType, claimValue string) string
	RoleClaimPrefix(roleName string) string

	// Encode applies the scheme's encoding to one normalized plaintext value.
	Encode(plain string) string
	// EncodeParts encodes a composite value; parts never run together.
	EncodeParts(parts ...string) string
}

type Option func(*scheme)

// WithKeyVersion overrides the version the scheme stamps on new records.
func WithKeyVersion(v float64) Option {
	return func(s *scheme) { s.version = v }
}

type scheme struct {
	name    string
	version float64
	encode  encoder
}

// NewPlain returns the URI-escaping scheme kept for pre-hash deployments.
func NewPlain(opts ...Option) Scheme {
	return build(SchemeURI, VersionPlain, plainEncoder, opts)
}

func NewSHA1(opts ...Option) Scheme {
	return build(SchemeSHA1, VersionSHA1, sha1Encoder, opts)
}

func NewSHA256(opts ...Option) Scheme {
	return build(SchemeSHA256, VersionSHA256, sha256Encoder, opts)
}

// New selects a scheme by its configuration name.
func New(name string, opts ...Option) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SchemeURI, "plain":
		return NewPlain(opts...), nil
	case SchemeSHA1:
		return NewSHA1(opts...), nil
	case SchemeSHA256, "":
		return NewSHA256(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

func build(name string, version float64, enc encoder, opts []Option) *scheme {
	s := &scheme{name: name, version: version, encode: enc}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *scheme) Name() string        { return s.name }
func (s *scheme) KeyVersion() float64 { return s.version }

func (s *scheme) NewUserID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *scheme) Encode(plain string) string {
	return s.encode(join(plain))
}

func (s *scheme) EncodeParts(parts ...string) string {
	return s.encode(join(parts...))
}

func (s *scheme) PartitionKeyUser(userID string) string {
	return PrefixUser + s.Encode(userID)
}

func (s *scheme) RowKeyUser(userID string) string {
	return PrefixUser + s.Encode(userID)
}

func (s *scheme) PartitionKeyUserName(userName string) string {
	return PrefixUserNameIndex + s.Encode(userName)
}

func (s *scheme) PartitionKeyEmail(email string) string {
	return PrefixEmailIndex + s.Encode(email)
}

func (s *scheme) PartitionKeyLogin(provider, providerKey string) string {
	return PrefixLogin + s.EncodeParts(provider, providerKey)
}

func (s *scheme) RowKeyUserClaim(claimType, claimValue string) string {
	return PrefixClaim + s.EncodeParts(claimType, claimValue)
}

func (s *scheme) RowKeyUserLogin(provider, providerKey string) string {
	return PrefixLogin + s.EncodeParts(provider, providerKey)
}

func (s *scheme) RowKeyUserRole(roleName string) string {
	return PrefixRole + s.Encode(roleName)
}

func (s *scheme) RowKeyUserToken(provider, name string) string {
	return PrefixToken + s.EncodeParts(provider, name)
}

func (s *scheme) RowKeyRole(roleName string) string {
	return PrefixRole + s.Encode(roleName)
}

// PartitionKeyRole is recoverable from the row key alone.
func (s *scheme) PartitionKeyRole(roleName string) string {
	rk := s.RowKeyRole(roleName)
	if len(rk) <= len(PrefixRole) {
		// empty name under the plain scheme has no discriminator byte
		return PrefixRole
	}
	return ParsePartitionKeyFromRowKey(rk)
}

func (s *scheme) RowKeyRoleClaim(roleName, claimType, claimValue string) string {
	return s.RoleClaimPrefix(roleName) + s.EncodeParts(claimType, claimValue)
}

func (s *scheme) RoleClaimPrefix(roleName string) string {
	return PrefixRoleClaim + s.Encode(roleName) + Separator
}
