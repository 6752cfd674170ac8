package task

// RetryPolicy maps a task type to how many times a clean failure is requeued.
// Types without an entry are never retried.
type RetryPolicy map[string]int

// Allows reports whether a task that has already been retried attempts times
// may be retried again.
func (p RetryPolicy) Allows(taskType string, attempts int) bool {
	return attempts < p[taskType]
}
