package keys

import (
	"errors"
	"fmt"
	"sort"
)

var ErrBadDeriveArgs = errors.New("wrong number of values for key kind")

type deriver struct {
	args int
	fn   func(s Scheme, v []string) string
}

var derivers = map[string]deriver{
	"user":      {1, func(s Scheme, v []string) string { return s.PartitionKeyUser(v[0]) }},
	"username":  {1, func(s Scheme, v []string) string { return s.PartitionKeyUserName(v[0]) }},
	"email":     {1, func(s Scheme, v []string) string { return s.PartitionKeyEmail(v[0]) }},
	"login":     {2, func(s Scheme, v []string) string { return s.PartitionKeyLogin(v[0], v[1]) }},
	"claim":     {2, func(s Scheme, v []string) string { return s.RowKeyUserClaim(v[0], v[1]) }},
	"role":      {1, func(s Scheme, v []string) string { return s.RowKeyRole(v[0]) }},
	"rolepk":    {1, func(s Scheme, v []string) string { return s.PartitionKeyRole(v[0]) }},
	"token":     {2, func(s Scheme, v []string) string { return s.RowKeyUserToken(v[0], v[1]) }},
	"userlogin": {2, func(s Scheme, v []string) string { return s.RowKeyUserLogin(v[0], v[1]) }},
	"userrole":  {1, func(s Scheme, v []string) string { return s.RowKeyUserRole(v[0]) }},
	"roleclaim": {3, func(s Scheme, v []string) string { return s.RowKeyRoleClaim(v[0], v[1], v[2]) }},
}

// Derive computes one key by kind name, for operators inspecting a table.
func Derive(s Scheme, kind string, values ...string) (string, error) {
	d, ok := derivers[kind]
	if !ok {
		return "", fmt.Errorf("unknown key kind %q (want one of %v)", kind, DeriveKinds())
	}
	if len(values) != d.args {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrBadDeriveArgs, kind, d.args, len(values))
	}
	return d.fn(s, values), nil
}

// DeriveKinds lists the kind names Derive accepts.
func DeriveKinds() []string {
	out := make([]string, 0, len(derivers))
	for k := range derivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
