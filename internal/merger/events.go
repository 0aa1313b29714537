package merger

// Event is the interface implemented by all merge events.
type Event interface {
	isEvent()
}

// EventEmitter is the interface for emitting events.
// Emit is never called concurrently by one Merger.
type EventEmitter interface {
	Emit(event Event)
}

// MergeStarted is emitted once a run has passed its preconditions.
type MergeStarted struct {
	Targets int
}

func (MergeStarted) isEvent() {}

// TargetStarted is emitted when work on one target begins.
type TargetStarted struct {
	Stem         string
	Contributors int
}

func (TargetStarted) isEvent() {}

// TargetUnpacked is emitted when the baseline and every contributor are unpacked.
// Bytes counts the archive bytes copied into the working folder.
type TargetUnpacked struct {
	Stem  string
	Bytes int64
}

func (TargetUnpacked) isEvent() {}

// TargetDiffed is emitted when every contributor has been diffed and the union built.
type TargetDiffed struct {
	Stem  string
	Files int
}

func (TargetDiffed) isEvent() {}

// TargetInstalled is emitted when the repacked archive is in place.
type TargetInstalled struct {
	Stem   string
	Output string
}

func (TargetInstalled) isEvent() {}

// TargetFailed is emitted when a target is abandoned or skipped.
type TargetFailed struct {
	Stem string
	Err  error
}

func (TargetFailed) isEvent() {}

// MergeComplete is emitted when every target has finished.
type MergeComplete struct {
	Result *Result
}

func (MergeComplete) isEvent() {}
