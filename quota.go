package fastls

import (
	"fmt"
	"maps"
	"slices"
)

type QuotaStatus int

const (
	// QuotaNone: no budget applies, or the write fits with room to spare.
	QuotaNone QuotaStatus = iota
	// QuotaMeet: the write makes the projected size exactly equal to the budget.
	QuotaMeet
	// QuotaStoredNull: the write did not fit, so null was stored instead of the value.
	QuotaStoredNull
	// QuotaCannotSave: the value is larger than the budget on its own; nothing was written.
	QuotaCannotSave
)

func (s QuotaStatus) String() string {
	switch s {
	case QuotaNone:
		return "none"
	case QuotaMeet:
		return "meet"
	case QuotaStoredNull:
		return "storedNull"
	case QuotaCannotSave:
		return "cannotSave"
	default:
		return fmt.Sprintf("invalid quota status %d", int(s))
	}
}

type QuotaDecision struct {
	Allowed   bool
	StoreNull bool
	Status    QuotaStatus

	// Folder is the folder whose budget decided the outcome, "" for the global budget.
	Folder    string
	Budget    int64
	Projected int64
	Candidate int64
}

// quotaManager holds process-local budgets. It is never persisted.
type quotaManager struct {
	global    int64
	hasGlobal bool
	folders   map[string]int64
	fold      bool
	last      QuotaStatus
}

func (q *quotaManager) setGlobal(bytes int64) {
	q.global, q.hasGlobal = bytes, true
}

func (q *quotaManager) removeGlobal() {
	q.global, q.hasGlobal = 0, false
}

func (q *quotaManager) setFolder(folder string, bytes int64) {
	if q.folders == nil {
		q.folders = make(map[string]int64)
	}
	q.folders[folder] = bytes
}

func (q *quotaManager) removeFolder(folder string) bool {
	if _, found := q.folders[folder]; !found {
		return false
	}
	delete(q.folders, folder)
	return true
}

// folderFor returns the most specific folder budget covering key.
func (q *quotaManager) folderFor(key string) (string, int64, bool) {
	var best string
	var budget int64
	var found bool
	for _, folder := range sortedQuotaFolders(q.folders) {
		if !underFolder(key, folder, q.fold) {
			continue
		}
		if !found || len(folder) > len(best) {
			best, budget, found = folder, q.folders[folder], true
		}
	}
	return best, budget, found
}

// check decides whether candidate may be stored under key. A folder budget
// covering key is authoritative and the global budget is not consulted.
func (q *quotaManager) check(m FlatMap, key string, candidate []byte) QuotaDecision {
	d := q.decide(m, key, candidate)
	q.last = d.Status
	return d
}

func (q *quotaManager) decide(m FlatMap, key string, candidate []byte) QuotaDecision {
	candidateSize := int64(len(candidate))
	oldSize := int64(len(m[key]))

	if folder, budget, ok := q.folderFor(key); ok {
		var current int64
		for k, v := range m {
			if underFolder(k, folder, q.fold) {
				current += int64(len(v))
			}
		}
		d := judge(current-oldSize+candidateSize, candidateSize, budget)
		d.Folder = folder
		return d
	}

	if q.hasGlobal {
		return judge(m.ByteSize()-oldSize+candidateSize, candidateSize, q.global)
	}
	return QuotaDecision{Allowed: true, Status: QuotaNone, Projected: -1}
}

func judge(projected, candidateSize, budget int64) QuotaDecision {
	d := QuotaDecision{Budget: budget, Projected: projected, Candidate: candidateSize}
	switch {
	case projected == budget:
		d.Allowed, d.Status = true, QuotaMeet
	case projected < budget:
		d.Allowed, d.Status = true, QuotaNone
	case candidateSize <= budget:
		d.Allowed, d.StoreNull, d.Status = true, true, QuotaStoredNull
	default:
		d.Status = QuotaCannotSave
	}
	return d
}

func sortedQuotaFolders(folders map[string]int64) []string {
	return slices.Sorted(maps.Keys(folders))
}
