package loop

import "github.com/thruflo/devloop/internal/session"

// DetectStuck checks if the session is stuck by analyzing the iteration log.
// A session is considered stuck if each of the last N iterations failed
// verification, where N is the threshold.
func DetectStuck(records []session.IterationRecord, threshold int) bool {
	if threshold <= 0 || len(records) < threshold {
		return false
	}

	for _, rec := range records[len(records)-threshold:] {
		if rec.Status == session.StatusSuccess {
			return false
		}
	}
	return true
}

// CalculateProgress returns the number of successful iterations and the
// total number of recorded iterations.
func CalculateProgress(records []session.IterationRecord) (succeeded, total int) {
	total = len(records)
	for _, rec := range records {
		if rec.Status == session.StatusSuccess {
			succeeded++
		}
	}
	return succeeded, total
}

// SuccessRate returns the share of successful iterations over the last
// window records, between 0 and 1.
func SuccessRate(records []session.IterationRecord, window int) float64 {
	if window <= 0 || window > len(records) {
		window = len(records)
	}
	if window == 0 {
		return 0
	}

	succeeded, total := CalculateProgress(records[len(records)-window:])
	return float64(succeeded) / float64(total)
}
