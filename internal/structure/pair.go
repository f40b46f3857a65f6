package structure

// ElementPair is an unordered pair of element symbols stored in canonical
// (lexicographically sorted) order. Use NewElementPair to build one.
type ElementPair struct {
	First  string
	Second string
}

// NewElementPair returns the canonical pair for the two symbols
func NewElementPair(a, b string) ElementPair {
	if b < a {
		a, b = b, a
	}
	return ElementPair{First: a, Second: b}
}

// Canonical returns p with its symbols sorted
func (p ElementPair) Canonical() ElementPair {
	return NewElementPair(p.First, p.Second)
}

func (p ElementPair) String() string {
	return p.First + "-" + p.Second
}
