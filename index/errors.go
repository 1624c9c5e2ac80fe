package index

import "fmt"

// ShapeError reports a tensor or field whose shape does not match what the
// exchange was configured for. It is always fatal: data is never truncated
// or padded to fit.
type ShapeError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch: %s: want %d, got %d", e.What, e.Want, e.Got)
}
