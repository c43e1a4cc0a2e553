package keys

const (
	// prefix dictionary for derived keys:
	// U_  = user (partition and row key of the user record)
	// UN_ = user name index partition
	// E_  = e-mail index partition
	// L_  = external login (user row and login index partition)
	// C_  = user claim row
	// R_  = user role row, role row
	// T_  = user token row
	// RC_ = role claim row
	// Every prefix ends in "_" and no prefix is a leading substring of
	// another, so [P, UpperBound(P)) never overlaps a different kind.
	// These literals are part of the persisted layout: change them only
	// together with a KeyVersion bump.

	PrefixUser          = "U_"
	PrefixUserNameIndex = "UN_"
	PrefixEmailIndex    = "E_"
	PrefixLogin         = "L_"
	PrefixClaim         = "C_"
	PrefixRole          = "R_"
	PrefixToken         = "T_"
	PrefixRoleClaim     = "RC_"

	// Separator joins the escaped parts of a composite key. Escaping never
	// leaves it bare, and hex digests never contain it.
	Separator = "|"

	// role partitions are one character wide
	RolePartitionWidth = 1
)

// KeyVersion stamped on records written by each scheme when no override is given.
const (
	VersionPlain  = 2.0
	VersionSHA1   = 3.0
	VersionSHA256 = 4.0
)

// Scheme names accepted by New and the keys.scheme config entry.
const (
	SchemeURI    = "uri"
	SchemeSHA1   = "sha1"
	SchemeSHA256 = "sha256"
)

// AllPrefixes lists every prefix in use, for range coverage checks.
var AllPrefixes = []string{
	PrefixUser,
	PrefixUserNameIndex,
	PrefixEmailIndex,
	PrefixLogin,
	PrefixClaim,
	PrefixRole,
	PrefixToken,
	PrefixRoleClaim,
}
