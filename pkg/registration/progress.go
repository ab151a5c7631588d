package registration

import "sync"

// ProgressCallback is a function that reports progress during registration.
// A non-empty message is informational; otherwise completed/total describe
// the amount of work done so far.
type ProgressCallback func(completed, total int, message string)

// Progress tallies the workload shared by concurrent pyramid builders and the
// optimizer. Updates are serialised so the callback sees consistent counts.
type Progress struct {
	mu        sync.Mutex
	workload  int
	completed int
	callback  ProgressCallback
}

// NewProgress creates a tally reporting to callback, which may be nil
func NewProgress(callback ProgressCallback) *Progress {
	return &Progress{callback: callback}
}

// AddWorkload announces additional units of work
func (p *Progress) AddWorkload(units int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workload += units
}

// Step records completed units
func (p *Progress) Step(units int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed += units
	if p.completed > p.workload {
		p.completed = p.workload
	}
	if p.callback != nil {
		p.callback(p.completed, p.workload, "")
	}
}

// Message forwards an informational message
func (p *Progress) Message(message string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.callback != nil {
		p.callback(p.completed, p.workload, message)
	}
}

// Snapshot returns the current counts, zero for a nil tally
func (p *Progress) Snapshot() (completed, workload int) {
	if p == nil {
		return 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.workload
}
