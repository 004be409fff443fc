package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/veiland/querycache/internal/filter"
)

// DeriveKey computes a deterministic cache key from a query string, its
// parameter map, and the tables it reads. Parameters are serialized with
// names sorted lexicographically and tables are sorted before hashing, so
// insertion order never changes the key. The canonical form is digested
// with xxhash-64 to bound key size.
func DeriveKey(query string, params map[string]any, tables []string) string {
	h := xxhash.New()
	_, _ = h.WriteString(query)
	_, _ = h.WriteString("|")

	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = h.WriteString(name)
			_, _ = h.WriteString("=")
			_, _ = h.WriteString(encodeParam(params[name]))
			_, _ = h.WriteString("|")
		}
	}
	_, _ = h.WriteString("|")

	if len(tables) > 0 {
		sorted := append([]string(nil), tables...)
		sort.Strings(sorted)
		_, _ = h.WriteString(strings.Join(sorted, ","))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

// KeyFromConditions derives a key for a filtered query from a validated
// condition list. The conditions come out of filter.Schema.Parse already in
// deterministic order, so identical filter inputs hash identically.
func KeyFromConditions(base string, conds []filter.Condition, tables []string) string {
	var canonical strings.Builder
	canonical.WriteString(base)
	for _, cond := range conds {
		canonical.WriteString("|")
		canonical.WriteString(string(cond.Conjunction))
		canonical.WriteString(".")
		canonical.WriteString(cond.Field)
		canonical.WriteString(".")
		canonical.WriteString(string(cond.Lookup))
		canonical.WriteString("=")
		canonical.WriteString(cond.Value)
	}
	return DeriveKey(canonical.String(), nil, tables)
}

// encodeParam renders a parameter value canonically. JSON keeps maps and
// slices deterministic; values JSON cannot express fall back to their fmt
// string form.
func encodeParam(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
