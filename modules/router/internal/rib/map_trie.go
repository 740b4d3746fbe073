package rib

import (
	"maps"
)

// MapTrieKey defines requirements for keys used in the MapTrie data structure.
//
// The type parameter T represents the concrete type implementing this
// interface.
type MapTrieKey[T any] interface {
	comparable
	// Masked returns a normalized version of the key with only significant
	// bits.
	Masked() T
	// Bits returns the number of significant bits in this key.
	Bits() int
}

// MapTrieQuery defines the interface for objects that can be used for querying
// the MapTrie.
type MapTrieQuery[K MapTrieKey[K]] interface {
	// BitLen returns the maximum number of significant bits in this query,
	// 32 for IPv4.
	BitLen() int
	// Prefix generates a key of the specified bit length from this query.
	Prefix(int) (K, error)
}

// mapTrieSlots covers every IPv4 prefix length, /0 included.
const mapTrieSlots = 33

// MapTrie is a prefix trie implemented as an array of maps, one map per
// prefix length.
//
// At most one value is stored per masked key, so a (destination, mask) pair
// is unique by construction.
type MapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any] [mapTrieSlots]map[K]V

// NewMapTrie returns a new MapTrie data structure with the specified
// initial capacity per prefix length.
func NewMapTrie[K MapTrieKey[K], Q MapTrieQuery[K], V any](cap int) MapTrie[K, Q, V] {
	trie := MapTrie[K, Q, V]{}

	for idx := range trie {
		trie[idx] = make(map[K]V, cap)
	}

	return trie
}

// Lookup searches the MapTrie for a value that matches the longest
// possible prefix for the given query.
//
// If no match is found, the function returns the zero value and false.
func (m *MapTrie[K, Q, V]) Lookup(query Q) (K, V, bool) {
	bitLen := min(query.BitLen(), mapTrieSlots-1)

	for bits := bitLen; bits >= 0; bits-- {
		prefix, err := query.Prefix(bits)
		if err != nil {
			continue
		}

		if value, ok := m[bits][prefix]; ok {
			return prefix, value, true
		}
	}

	var zeroPrefix K
	var zeroValue V
	return zeroPrefix, zeroValue, false
}

// Get returns the value stored for exactly this key.
func (m *MapTrie[K, Q, V]) Get(prefix K) (V, bool) {
	prefix = prefix.Masked()
	bits := prefix.Bits()
	if bits < 0 || bits >= mapTrieSlots {
		var zero V
		return zero, false
	}

	value, ok := m[bits][prefix]
	return value, ok
}

// InsertOrUpdate adds a new entry or updates an existing one in the MapTrie.
//
// The key is masked first. A new value comes from onEmpty, an existing one is
// replaced by the result of onUpdate.
func (m *MapTrie[K, Q, V]) InsertOrUpdate(prefix K, onEmpty func() V, onUpdate func(V) V) {
	prefix = prefix.Masked()
	bits := prefix.Bits()

	if currValue, ok := m[bits][prefix]; ok {
		m[bits][prefix] = onUpdate(currValue)
		return
	}

	m[bits][prefix] = onEmpty()
}

// Delete removes the entry for the key, reporting whether it was present.
func (m *MapTrie[K, Q, V]) Delete(prefix K) bool {
	prefix = prefix.Masked()
	bits := prefix.Bits()

	if _, ok := m[bits][prefix]; !ok {
		return false
	}
	delete(m[bits], prefix)
	return true
}

// Len returns the total number of prefixes stored in the MapTrie.
func (m *MapTrie[K, Q, V]) Len() int {
	l := 0
	for idx := range m {
		l += len(m[idx])
	}

	return l
}

// Dump creates a flat map containing all prefixes and their values from the MapTrie.
func (m MapTrie[K, Q, V]) Dump() map[K]V {
	out := make(map[K]V, m.Len())

	for idx := len(m) - 1; idx >= 0; idx-- {
		maps.Copy(out, m[idx])
	}

	return out
}
