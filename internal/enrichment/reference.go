// Package enrichment derives the matching fields of an entry: the decoded
// reference tokens and the fee adjusted amount.
package enrichment

// minReferenceLength is the shortest reference that carries store and batch codes
const minReferenceLength = 7

// ReferenceParts holds the fixed-width tokens of a transaction reference
type ReferenceParts struct {
	CardType string
	Store    string
	Batch    string
	Key      string
}

// isCardMarker reports whether c is a coded-card marker in the second position
func isCardMarker(c rune) bool {
	return c == 'C' || c == 'D' || c == 'E'
}

// DecodeReference splits a raw reference into card type, store and batch.
//
// With a card marker in the second position the layout is
// `x T SSS ... BBB x` (store r[2:5], batch r[n-4:n-1]); otherwise it is
// `T SSS ... BBB` (store r[1:4], batch r[n-3:]). References shorter than
// seven characters decode to empty parts.
func DecodeReference(reference string) ReferenceParts {
	r := []rune(reference)
	n := len(r)
	if n < minReferenceLength {
		return ReferenceParts{}
	}

	var p ReferenceParts
	if isCardMarker(r[1]) {
		p.CardType = string(r[1])
		p.Store = string(r[2:5])
		p.Batch = string(r[n-4 : n-1])
	} else {
		p.CardType = string(r[0])
		p.Store = string(r[1:4])
		p.Batch = string(r[n-3:])
	}
	p.Key = p.Store + p.Batch
	return p
}

// Similarity is the outcome of comparing two reference keys
type Similarity int

const (
	// NoRelation means the batch codes differ in more than two positions
	NoRelation Similarity = -1
	// StoreMismatch means the batches are close but the store codes differ
	StoreMismatch Similarity = 0
	// SimilarMatch means equal stores and batches differing in at most two positions
	SimilarMatch Similarity = 1
)

const maxBatchMismatches = 2

// String returns the string representation of Similarity
func (s Similarity) String() string {
	switch s {
	case SimilarMatch:
		return "match"
	case StoreMismatch:
		return "store_mismatch"
	default:
		return "no_relation"
	}
}

// CompareReferenceKeys compares the store (first three characters) and batch
// (last three characters) of two reference keys. Batch mismatches are counted
// position by position over the shorter of the two batches. Empty keys never
// relate to anything.
func CompareReferenceKeys(a, b string) Similarity {
	if a == "" || b == "" {
		return NoRelation
	}

	storeA, batchA := splitKey([]rune(a))
	storeB, batchB := splitKey([]rune(b))

	n := len(batchA)
	if len(batchB) < n {
		n = len(batchB)
	}

	mismatches := 0
	for i := 0; i < n; i++ {
		if batchA[i] != batchB[i] {
			mismatches++
		}
	}

	if mismatches > maxBatchMismatches {
		return NoRelation
	}
	if string(storeA) != string(storeB) {
		return StoreMismatch
	}
	return SimilarMatch
}

func splitKey(k []rune) (store, batch []rune) {
	store = k
	if len(store) > 3 {
		store = store[:3]
	}
	batch = k
	if len(batch) > 3 {
		batch = batch[len(batch)-3:]
	}
	return store, batch
}
