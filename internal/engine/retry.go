package engine

import "sync"

// retryLedger counts delivery attempts per queue item, keyed by the item's
// record id. Keeping the bookkeeping outside the record payloads means a
// retry-counter bug can never corrupt user data; losing the ledger on
// restart merely restarts the bounded count.
type retryLedger struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newRetryLedger() *retryLedger {
	return &retryLedger{attempts: make(map[string]int)}
}

// Bump records one failed attempt and returns the new total.
func (l *retryLedger) Bump(itemID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[itemID]++
	return l.attempts[itemID]
}

// Attempts returns the recorded attempt count for an item.
func (l *retryLedger) Attempts(itemID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[itemID]
}

// Forget clears the count once an item leaves the queue.
func (l *retryLedger) Forget(itemID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, itemID)
}
