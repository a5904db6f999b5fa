package cache

import (
	"fmt"
	"hash/fnv"
	"kickoff/internal/types"
	"sort"
	"strconv"
	"strings"
)

// MaxKeyLength caps derived keys. Longer keys keep a prefix and a hash suffix.
const MaxKeyLength = 200

// Key derives the storage key for a collection and its query parameters.
// Parameters are serialized in sorted order as k_v pairs, so equal parameter
// sets always produce the same key.
func Key(collection string, params types.Params) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(collection)
	for _, k := range names {
		b.WriteByte('_')
		b.WriteString(k)
		b.WriteByte('_')
		b.WriteString(params[k])
	}
	raw := b.String()
	key := sanitize(raw)
	if len(key) <= MaxKeyLength {
		return key
	}
	suffix := "_" + ComputeKey(raw)
	return key[:MaxKeyLength-len(suffix)] + suffix
}

// sanitize lowercases s and drops every character outside [a-z0-9_].
func sanitize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ComputeKey returns a short stable hash of s.
func ComputeKey(s string) string {
	h := fnv.New32a()
	// hash.Hash.Write never returns an error according to the interface contract
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("e%d", h.Sum32())
}

// FixtureListParams are the params of a league fixture list over [from, to].
func FixtureListParams(leagueID int, from, to string) types.Params {
	return types.Params{"league": strconv.Itoa(leagueID), "from": from, "to": to}
}

// FixtureParams are the params of a per-fixture detail document.
func FixtureParams(fixtureID int) types.Params {
	return types.Params{"fixture": strconv.Itoa(fixtureID)}
}

// LiveParams are the params of the live fixtures list.
func LiveParams() types.Params {
	return types.Params{"live": "all"}
}
