package account

// ProgressReporter is the small progress-bar surface the pool and the stats
// collector decorate. The pool appends flood-wait notes to the postfix; the
// collector sets the current channel and advances the counter.
type ProgressReporter interface {
	SetPostfix(s string)
	Postfix() string
	Increment()
}
