package sequencer

import "errors"

// Common errors for sequencing operations
var (
	ErrNilRecord       = errors.New("record cannot be nil")
	ErrMissingID       = errors.New("record id cannot be empty")
	ErrSequenceCorrupt = errors.New("group sequence is not contiguous")
)
