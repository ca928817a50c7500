package stream

import "github.com/pkg/errors"

// Error kinds shared by every parser and muxer. Callers match them with
// errors.Is after the failure site wrapped them with context.
var (
	ErrTruncated  = errors.New("truncated stream")
	ErrMalformed  = errors.New("malformed container")
	ErrCapability = errors.New("stream capability missing")
	ErrInvariant  = errors.New("structural invariant violated")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrState      = errors.New("invalid state")
)

// Truncated reports a value cut short by the end of the stream.
func Truncated(missing int) error {
	return errors.Wrapf(ErrTruncated, "missing %d bytes", missing)
}
