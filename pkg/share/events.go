package share

// Event is a notification from the share engine. Callbacks run on the
// goroutine that produced the event and must not call back into the
// engine.
type Event interface{ shareEvent() }

// RefreshQueued reports a refresh task accepted by the scheduler.
type RefreshQueued struct {
	TaskID string
	Type   TaskType
	Paths  []string
}

// RefreshStarted reports the worker picking up one task path.
type RefreshStarted struct {
	TaskID string
	Path   string
}

// RefreshCompleted reports a finished task path with subtree totals.
type RefreshCompleted struct {
	TaskID string
	Path   string
	Files  int
	Bytes  int64
}

// RefreshFailed reports a task path that could not be walked.
type RefreshFailed struct {
	TaskID string
	Path   string
	Err    error
}

// RootAdded, RootUpdated and RootRemoved track configuration changes.
type RootAdded struct{ Path string }
type RootUpdated struct{ Path string }
type RootRemoved struct{ Path string }

func (RefreshQueued) shareEvent()    {}
func (RefreshStarted) shareEvent()   {}
func (RefreshCompleted) shareEvent() {}
func (RefreshFailed) shareEvent()    {}
func (RootAdded) shareEvent()        {}
func (RootUpdated) shareEvent()      {}
func (RootRemoved) shareEvent()      {}
