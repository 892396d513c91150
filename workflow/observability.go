package workflow

import "sync"

// RunObservation captures one finished workflow run.
type RunObservation struct {
	RunID      string
	Workflow   string
	Steps      int
	Success    bool
	FailedStep int
	ErrorCode  string
	DurationMS int64
}

// StepObservation captures one finished step.
type StepObservation struct {
	RunID      string
	Workflow   string
	Index      int
	Tool       string
	Action     string
	Skipped    bool
	Success    bool
	ErrorCode  string
	DurationMS int64
}

// Observer receives workflow observability events.
type Observer interface {
	ObserveRun(observation RunObservation)
	ObserveStep(observation StepObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveRun(RunObservation)   {}
func (noopObserver) ObserveStep(StepObservation) {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide workflow observer. nil restores the no-op.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}
