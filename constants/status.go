package constants

// ConversionState is the per-file state reported by the conversion service.
type ConversionState string

const (
	StatePending     ConversionState = "pending"
	StateWaitingFile ConversionState = "waiting-file"
	StateRunning     ConversionState = "running"
	StateConverting  ConversionState = "converting"
	StateDone        ConversionState = "done"
	StateFailed      ConversionState = "failed"
	StateError       ConversionState = "error"
)

// Terminal reports whether no further transition occurs from s.
func (s ConversionState) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateError:
		return true
	}
	return false
}

// ExtractionStatus tags a single ExtractionEngine result.
type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionPartial ExtractionStatus = "partial"
	ExtractionError   ExtractionStatus = "error"
)

// OutputStatus is the status written across the process boundary.
type OutputStatus string

const (
	OutputSuccess        OutputStatus = "success"
	OutputPartialSuccess OutputStatus = "partial_success"
	OutputError          OutputStatus = "error"
)

// BatchStatus aggregates the outputs of a batch run.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "COMPLETED"
	BatchPartial   BatchStatus = "PARTIAL"
	BatchFailed    BatchStatus = "FAILED"
)
