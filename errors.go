package tagcache

import (
	"fmt"
)

// InvalidateError reports a failed per-cid invalidation: the read of the
// stored valid flag or the in-place flip went wrong.
type InvalidateError struct {
	CID      string
	ReadErr  error
	WriteErr error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.ReadErr != nil:
		return fmt.Sprintf("invalidate %q: read valid flag: %v", e.CID, e.ReadErr)
	case e.WriteErr != nil:
		return fmt.Sprintf("invalidate %q: flip valid flag: %v", e.CID, e.WriteErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.CID)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.ReadErr != nil {
		errs = append(errs, e.ReadErr)
	}
	if e.WriteErr != nil {
		errs = append(errs, e.WriteErr)
	}
	return errs
}
