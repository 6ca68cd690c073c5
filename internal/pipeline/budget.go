package pipeline

import "sync/atomic"

// BudgetTracker enforces the job's quality-page budget: only pages that pass
// the quality gate and are not content duplicates count toward max_pages.
// Safe for concurrent use by multiple fetch workers.
type BudgetTracker struct {
	maxQualityPages int64
	qualityCount    int64
	totalCount      int64
}

// NewBudgetTracker constructs a tracker for a job whose quality budget is
// maxQualityPages.
func NewBudgetTracker(maxQualityPages int) *BudgetTracker {
	return &BudgetTracker{maxQualityPages: int64(maxQualityPages)}
}

// Record folds one page's gate outcome into the running totals and reports
// whether it counts toward the budget.
func (b *BudgetTracker) Record(qualityPassed, isDuplicate bool) (countsTowardBudget bool) {
	atomic.AddInt64(&b.totalCount, 1)
	if qualityPassed && !isDuplicate {
		atomic.AddInt64(&b.qualityCount, 1)
		return true
	}
	return false
}

// BudgetReached reports whether the job has accumulated enough quality pages
// to stop fetching.
func (b *BudgetTracker) BudgetReached() bool {
	return atomic.LoadInt64(&b.qualityCount) >= b.maxQualityPages
}

// QualityCount returns the current count of budget-counting pages.
func (b *BudgetTracker) QualityCount() int {
	return int(atomic.LoadInt64(&b.qualityCount))
}

// TotalCount returns the count of all pages processed, including rejected
// and duplicate ones.
func (b *BudgetTracker) TotalCount() int {
	return int(atomic.LoadInt64(&b.totalCount))
}
