package assembly

import "errors"

// Static errors for assembly. ErrSourceUnreadable is per file and never
// fails a job; the others abort it.
var (
	// ErrSourceUnreadable marks an input that could not be opened or decoded.
	ErrSourceUnreadable = errors.New("assembly: source unreadable")
	// ErrEmptyJob is returned when no frame could be produced from any source.
	ErrEmptyJob = errors.New("assembly: no frames to encode")
	// ErrEncoderInit is returned when the output encoder cannot be opened.
	ErrEncoderInit = errors.New("assembly: encoder initialization failed")
	// ErrEncodeWrite is returned when a frame cannot be written or the output
	// cannot be finalized. A partial output file may remain.
	ErrEncodeWrite = errors.New("assembly: encode write failed")
	// ErrInvalidJob is returned when job parameters are out of range.
	ErrInvalidJob = errors.New("assembly: invalid job")
)
