package dispatch

import "sync"

// Observation captures one dispatch outcome.
type Observation struct {
	ToolID     string
	Action     string
	Success    bool
	ErrorCode  Code
	Variant    Variant
	DurationMS int64
}

// Observer receives dispatch observability events.
type Observer interface {
	ObserveDispatch(observation Observation)
}

type noopObserver struct{}

func (noopObserver) ObserveDispatch(Observation) {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide dispatch observer. nil restores the no-op.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func emitObservation(observation Observation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveDispatch(observation)
}
