package ledger

import (
	"fmt"
	"sort"
)

// Report is the result of an offline audit pass over a ledger.
type Report struct {
	Entries    int
	Intents    int
	Orphans    int
	Violations []string
}

// OK reports whether the ledger passed every check.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// Audit verifies the resilience invariants over a complete ledger:
//
//  1. every acked fingerprint resolved to exactly one exchange order
//     and exactly one terminal outcome;
//  2. no fingerprint ever had two live exchange orders;
//  3. every detected orphan was eventually cancelled.
func Audit(entries []Entry) Report {
	rep := Report{Entries: len(entries)}

	acks := make(map[string][]string)   // fingerprint -> distinct exchange ids
	outcomes := make(map[string]int)    // fingerprint -> terminal outcome count
	intents := make(map[string]Entry)   // fingerprint -> first intent
	orphanSeen := make(map[string]bool) // exchange id -> detected
	orphanDone := make(map[string]bool) // exchange id -> cancelled

	for _, e := range entries {
		switch e.Kind {
		case KindIntent:
			if _, dup := intents[e.Fingerprint]; !dup {
				intents[e.Fingerprint] = e
				rep.Intents++
			}
		case KindAck:
			ids := acks[e.Fingerprint]
			seen := false
			for _, id := range ids {
				if id == e.ExchangeID {
					seen = true
					break
				}
			}
			if !seen {
				acks[e.Fingerprint] = append(ids, e.ExchangeID)
			}
		case KindOutcome:
			if e.Outcome == OutcomeOrphanCancelled {
				orphanDone[e.ExchangeID] = true
				continue
			}
			outcomes[e.Fingerprint]++
		case KindOrphan:
			rep.Orphans++
			orphanSeen[e.ExchangeID] = true
		}
	}

	for fp, ids := range acks {
		if len(ids) > 1 {
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("fingerprint %s acked by %d distinct exchange orders %v", fp, len(ids), ids))
		}
	}

	for fp, in := range intents {
		ids, acked := acks[fp]
		if !acked {
			// Rejected or abandoned placements must still be closed out.
			if outcomes[fp] == 0 {
				rep.Violations = append(rep.Violations,
					fmt.Sprintf("fingerprint %s (%s %s) has no ack and no outcome", fp, in.Symbol, in.Role))
			}
			continue
		}
		switch n := outcomes[fp]; {
		case n == 0:
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("fingerprint %s (order %s) never resolved to a terminal outcome", fp, ids[0]))
		case n > 1:
			rep.Violations = append(rep.Violations,
				fmt.Sprintf("fingerprint %s resolved %d times", fp, n))
		}
	}

	var unresolved []string
	for id := range orphanSeen {
		if !orphanDone[id] {
			unresolved = append(unresolved, id)
		}
	}
	sort.Strings(unresolved)
	for _, id := range unresolved {
		rep.Violations = append(rep.Violations,
			fmt.Sprintf("orphan order %s detected but never cancelled", id))
	}

	sort.Strings(rep.Violations)
	return rep
}
