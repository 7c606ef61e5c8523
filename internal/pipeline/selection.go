package pipeline

import "sort"

// SelectTopK returns the k highest-total candidates across the entire
// scored set, ordered descending by total with ties broken by ascending
// (question id, candidate id). This is the global final cut, distinct
// from the per-question filter applied at the scoring stage. Pure
// function of its input.
func SelectTopK(scored []ScoredCandidate, k int) []ScoredCandidate {
	ranked := make([]ScoredCandidate, len(scored))
	copy(ranked, scored)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Total != ranked[j].Total {
			return ranked[i].Total > ranked[j].Total
		}
		if ranked[i].QuestionID != ranked[j].QuestionID {
			return ranked[i].QuestionID < ranked[j].QuestionID
		}
		return ranked[i].CandidateID < ranked[j].CandidateID
	})

	if k < 0 {
		k = 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}
