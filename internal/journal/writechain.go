package journal

import "sync"

// writeChain serializes writes to one file so readers never observe a
// partial record, the way the teacher serializes per-session summarization
// via a lazily-created *sync.Mutex held in a sync.Map.
type writeChain struct {
	mu sync.Mutex
}

func (w *writeChain) do(fn func() error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn()
}
