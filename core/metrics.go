package core

// Metrics records the application's domain measurements.
type Metrics interface {
	EvaluationSaved(created bool)
	SelectionChanged(institution string, count int)
	CacheRequest(cache string, hit bool)
	CacheError(cache string)
}
