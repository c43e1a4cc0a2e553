package keys

import "strings"

// UpperBound returns the first string past every key that starts with prefix.
// It is a filter sentinel, never a stored key.
func UpperBound(prefix string) string {
	if prefix == "" {
		return ""
	}
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}

// ParsePartitionKeyFromRowKey returns the role partition discriminator embedded
// in a role row key. The caller must pass a key that HasPrefix(rowKey,
// PrefixRole) with at least one byte after the prefix; shorter input panics.
func ParsePartitionKeyFromRowKey(rowKey string) string {
	return rowKey[len(PrefixRole) : len(PrefixRole)+RolePartitionWidth]
}

// HasPrefix reports whether key lies in [prefix, UpperBound(prefix)).
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}

// KindOf returns the prefix a key was derived with, or "" if none matches.
func KindOf(key string) string {
	for _, p := range AllPrefixes {
		if strings.HasPrefix(key, p) {
			return p
		}
	}
	return ""
}
