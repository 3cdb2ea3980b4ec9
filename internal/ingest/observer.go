package ingest

// Observer receives pipeline events for metrics. Calls happen on worker goroutines.
type Observer interface {
	FetchAttempt(failed bool)
	FileProcessed(status FileStatus)
	ArchiveProcessed(outcome ArchiveOutcome)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) FetchAttempt(bool)               {}
func (NopObserver) FileProcessed(FileStatus)        {}
func (NopObserver) ArchiveProcessed(ArchiveOutcome) {}
