package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks a long running job such as a stress run. Steps are
// started, then either finished or failed.
type ProgressBar struct {
	sync.Mutex
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	Failed     uint64    `json:"failed"`
	InProgress uint64    `json:"in_progress"`
}

// Start marks amount steps as running.
func (b *ProgressBar) Start(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress += amount
}

// Finish moves amount running steps to finished.
func (b *ProgressBar) Finish(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= min(amount, b.InProgress)
	b.Finished += amount
}

// Fail moves amount running steps to failed. Failed steps still count
// towards completion.
func (b *ProgressBar) Fail(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.InProgress -= min(amount, b.InProgress)
	b.Failed += amount
}

// Done returns how many steps have completed, successfully or not.
func (b *ProgressBar) Done() uint64 {
	b.Lock()
	defer b.Unlock()

	return b.Finished + b.Failed
}

// Percent returns the completed share of the total in [0, 100].
func (b *ProgressBar) Percent() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Total == 0 {
		return 100
	}

	return min(100, float64(b.Finished+b.Failed)*100/float64(b.Total))
}

// Elapsed returns how long the bar has been running.
func (b *ProgressBar) Elapsed() time.Duration {
	return time.Since(b.StartTime)
}
