package relay

// PendingRequests reports how many requests are still waiting on a response.
func (a *Adapter) PendingRequests() int {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	return len(a.pending)
}
