package tokens_dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports construction parameters that can never produce a
	// working dataset. Raised eagerly by NewDataset and Concat, never from
	// the read path.
	ErrConfig = errors.New("invalid dataset configuration")

	// ErrConsistency reports files that disagree with each other or with
	// the declared layout: a label-mask array whose instance count differs
	// from its token array, or a chunk that decodes to the wrong element
	// count.
	ErrConsistency = errors.New("dataset consistency violation")
)

// BoundsError
// Reports a Get index outside the dataset, before or after negative-index
// resolution. Index is the caller's original argument.
type BoundsError struct {
	Index int
	Size  int
}

func (err *BoundsError) Error() string {
	return fmt.Sprintf("%d is out of bounds for dataset of size %d",
		err.Index, err.Size)
}
