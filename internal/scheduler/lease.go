package scheduler

// Lease is the TokenLease described in spec.md §3: created on selection,
// consumed by C9. Release must be called exactly once.
type Lease struct {
	AccessToken string
	ProjectID   string
	Email       string
	AccountID   string

	release func()
	done    bool
}

// Release decrements active_requests[account_id]. Calling it more than once
// is a no-op — exactly one decrement happens per lease regardless of how many
// times a caller (e.g. a deferred cleanup plus an explicit one) invokes it.
func (l *Lease) Release() {
	if l.done {
		return
	}
	l.done = true
	if l.release != nil {
		l.release()
	}
}
