package scheduler

import "github.com/couchcryptid/gfs-ingest-service/internal/domain"

// Observer receives structured progress events. Implementations must be safe
// for concurrent use: job events arrive from every worker at once.
type Observer interface {
	JobStarted(domain.JobEvent)
	JobFinished(domain.JobEvent)
	PassFinished(domain.PassSummary)
	RunLocated(domain.RunLocated)
	RunsPruned(domain.PruneSummary)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) JobStarted(domain.JobEvent)      {}
func (NopObserver) JobFinished(domain.JobEvent)     {}
func (NopObserver) PassFinished(domain.PassSummary) {}
func (NopObserver) RunLocated(domain.RunLocated)    {}
func (NopObserver) RunsPruned(domain.PruneSummary)  {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (obs Observers) JobStarted(e domain.JobEvent) {
	for _, o := range obs {
		o.JobStarted(e)
	}
}

func (obs Observers) JobFinished(e domain.JobEvent) {
	for _, o := range obs {
		o.JobFinished(e)
	}
}

func (obs Observers) PassFinished(s domain.PassSummary) {
	for _, o := range obs {
		o.PassFinished(s)
	}
}

func (obs Observers) RunLocated(e domain.RunLocated) {
	for _, o := range obs {
		o.RunLocated(e)
	}
}

func (obs Observers) RunsPruned(s domain.PruneSummary) {
	for _, o := range obs {
		o.RunsPruned(s)
	}
}
