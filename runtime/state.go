package runtime

// State is a lifecycle state of a Runtime or Instance.
//
//	Unloaded -> Loaded                       runtime.New
//	Loaded -> Instantiated -> Ready          Runtime.Instance
//	Ready -> Running -> Completed | Failed   Instance.Run
//	Completed -> Ready                       stateless functions only
//	any -> Closed                            Close
type State int32

const (
	StateUnloaded State = iota
	StateLoaded
	StateInstantiated
	StateReady
	StateRunning
	StateCompleted
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateUnloaded:     "unloaded",
	StateLoaded:       "loaded",
	StateInstantiated: "instantiated",
	StateReady:        "ready",
	StateRunning:      "running",
	StateCompleted:    "completed",
	StateFailed:       "failed",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
