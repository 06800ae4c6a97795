package models

import (
	"github.com/goccy/go-json"
)

// PairKey identifies an unordered pair of threads. Use NewPairKey so that
// (a,b) and (b,a) map to the same key.
type PairKey struct {
	A, B string
}

// NewPairKey returns the canonical key for the unordered pair {a, b}
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// PairScore holds the component scores of one thread pair
type PairScore struct {
	Participant float64 `json:"participant"`
	Content     float64 `json:"content"`
	Subject     float64 `json:"subject"`
	Combined    float64 `json:"combined"`
}

// RelevancyMatrix is a sparse symmetric map from thread pair to score.
// It serialises as a flat {"<first>_<second>": score} object where first
// precedes second in the batch order.
type RelevancyMatrix struct {
	scores map[PairKey]PairScore
	order  [][2]string
}

// NewRelevancyMatrix creates an empty matrix
func NewRelevancyMatrix() *RelevancyMatrix {
	return &RelevancyMatrix{scores: map[PairKey]PairScore{}}
}

// Set records the score for the pair; first and second keep batch order for serialisation
func (m *RelevancyMatrix) Set(first, second string, s PairScore) {
	key := NewPairKey(first, second)
	if _, ok := m.scores[key]; !ok {
		m.order = append(m.order, [2]string{first, second})
	}
	m.scores[key] = s
}

// Score returns the combined score for the pair in either order
func (m *RelevancyMatrix) Score(a, b string) (float64, bool) {
	s, ok := m.scores[NewPairKey(a, b)]
	return s.Combined, ok
}

// Detail returns all component scores for the pair in either order
func (m *RelevancyMatrix) Detail(a, b string) (PairScore, bool) {
	s, ok := m.scores[NewPairKey(a, b)]
	return s, ok
}

// Len is the number of scored pairs
func (m *RelevancyMatrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.scores)
}

// Flat returns the serialisable key -> combined score view
func (m *RelevancyMatrix) Flat() map[string]float64 {
	out := make(map[string]float64, m.Len())
	if m == nil {
		return out
	}
	for _, p := range m.order {
		out[p[0]+"_"+p[1]] = m.scores[NewPairKey(p[0], p[1])].Combined
	}
	return out
}

func (m *RelevancyMatrix) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Flat())
}

// RelevancyAnalysis is the outcome of grouping a batch of threads
type RelevancyAnalysis struct {
	RelevantGroups    [][]*ThreadMetadata `json:"relevant_groups"`
	IrrelevantThreads []*ThreadMetadata   `json:"irrelevant_threads"`
	RelevancyMatrix   *RelevancyMatrix    `json:"relevancy_matrix"`
}
