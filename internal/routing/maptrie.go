package routing

import (
	"maps"
	"net/netip"
)

// MapTrieKey is the teacher's requirement for keys used by MapTrie: a
// comparable type that can normalize itself to its significant bits.
// netip.Prefix already satisfies this natively (Masked()/Bits() are its
// own methods), so no wrapper type is needed to use it as K.
type MapTrieKey[T any] interface {
	comparable
	Masked() T
	Bits() int
}

// MapTrieQuery is the teacher's requirement for the query type used to
// walk a MapTrie: something that can produce a key of a given bit
// length. addrQuery (below) implements this for netip.Addr.
type MapTrieQuery[K MapTrieKey[K]] interface {
	BitLen() int
	Prefix(int) (K, error)
}

// MapTrie is the teacher's generic prefix trie implemented as an array
// of maps, one per bit length, from modules/route/internal/rib.MapTrie.
// 129 slots cover every IPv4 (0-32) and IPv6 (0-128) prefix length.
type MapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any] [129]map[K]V

// NewMapTrie returns an empty MapTrie with cap pre-allocated per bit
// length.
func NewMapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any](cap int) MapTrie[K, Q, V] {
	trie := MapTrie[K, Q, V]{}
	for idx := range trie {
		trie[idx] = make(map[K]V, cap)
	}
	return trie
}

// Lookup performs a longest-prefix-match walk for query: an O(1) map
// lookup per candidate bit length, from longest to shortest, stopping at
// the first hit.
func (m *MapTrie[K, Q, V]) Lookup(query Q) (K, V, bool) {
	bitLen := query.BitLen()
	for bits := bitLen; bits >= 0; bits-- {
		prefix, _ := query.Prefix(bits)
		if value, ok := m[bits][prefix]; ok {
			return prefix, value, true
		}
	}
	var zeroPrefix K
	var zeroValue V
	return zeroPrefix, zeroValue, false
}

// LookupTraverseRev visits every prefix in the trie containing query, in
// descending order of prefix length (longest first).
func (m *MapTrie[K, Q, V]) LookupTraverseRev(query Q, fn func(K, V) bool) {
	bitLen := query.BitLen()
	for bits := bitLen; bits >= 0; bits-- {
		prefix, _ := query.Prefix(bits)
		if value, ok := m[bits][prefix]; ok {
			if fn(prefix, value) {
				continue
			}
		}
	}
}

// InsertOrUpdate adds a new entry or updates an existing one, keyed by
// prefix's masked form.
func (m *MapTrie[K, Q, V]) InsertOrUpdate(prefix K, onEmpty func() V, onUpdate func(V) V) {
	prefix = prefix.Masked()
	bits := prefix.Bits()
	if currValue, ok := m[bits][prefix]; ok {
		m[bits][prefix] = onUpdate(currValue)
		return
	}
	m[bits][prefix] = onEmpty()
}

// Get returns the value stored at exactly prefix, with no LPM walk.
func (m *MapTrie[K, Q, V]) Get(prefix K) (V, bool) {
	v, ok := m[prefix.Bits()][prefix]
	return v, ok
}

// Set stores v at exactly prefix, overwriting any existing entry.
func (m *MapTrie[K, Q, V]) Set(prefix K, v V) {
	m[prefix.Bits()][prefix] = v
}

// Delete removes the entry stored at exactly prefix, if any.
func (m *MapTrie[K, Q, V]) Delete(prefix K) {
	delete(m[prefix.Bits()], prefix)
}

// Len returns the total number of prefixes stored across all bit
// lengths.
func (m *MapTrie[K, Q, V]) Len() int {
	l := 0
	for idx := range m {
		l += len(m[idx])
	}
	return l
}

// Dump flattens the trie into a single map, for callers that need to
// enumerate every installed entry regardless of bit length.
func (m *MapTrie[K, Q, V]) Dump() map[K]V {
	out := make(map[K]V, m.Len())
	for idx := len(m) - 1; idx >= 0; idx-- {
		maps.Copy(out, m[idx])
	}
	return out
}

// addrQuery adapts netip.Addr to MapTrieQuery[netip.Prefix].
type addrQuery netip.Addr

func (q addrQuery) BitLen() int { return netip.Addr(q).BitLen() }

func (q addrQuery) Prefix(bits int) (netip.Prefix, error) {
	return netip.PrefixFrom(netip.Addr(q), bits).Masked(), nil
}
