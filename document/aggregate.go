package document

// Aggregate derives the case status from the full document set. It is the
// single source of that computation: every action recomputes from scratch so
// buyer, seller and admin views can never drift apart.
//
// final_review requires every document approved; a single pending or
// rejected document keeps the case at partial (or pending_docs while nothing
// is approved yet). certified is only reported when an explicit
// certification is still standing on top of a fully approved set.
func Aggregate(states []State, certified bool) CaseStatus {
	if len(states) == 0 {
		return CasePendingDocs
	}

	approved := 0
	for _, s := range states {
		if s == StateApproved {
			approved++
		}
	}

	switch {
	case approved == 0:
		return CasePendingDocs
	case approved < len(states):
		return CasePartial
	case certified:
		return CaseCertified
	default:
		return CaseFinalReview
	}
}
