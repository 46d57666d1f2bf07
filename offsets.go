package tokens_dataset

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/wbrown/tokens_dataset/types"
)

// OffsetRange
// The half-open span [Start, End) of global instance indices served by one
// file. A file shorter than one chunk has Start == End.
type OffsetRange struct {
	Start int
	End   int
}

func (offsets OffsetRange) Len() int {
	return offsets.End - offsets.Start
}

func (offsets OffsetRange) Contains(index int) bool {
	return index >= offsets.Start && index < offsets.End
}

// buildIndex
// Probe every token and label-mask file size concurrently, then lay the
// files out as contiguous instance ranges in their original order. Instance
// counts floor-divide the byte size, so trailing partial chunks are
// dropped. Any probe failure fails the whole build; nothing partial is
// returned.
func (dataset *Dataset) buildIndex(
	ctx context.Context,
) ([]OffsetRange, int, error) {
	sizes := make([]int64, len(dataset.files))
	maskSizes := make([]int64, len(dataset.files))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(dataset.maxProbes)
	for fileIndex := range dataset.files {
		slot := fileIndex
		file := dataset.files[fileIndex]
		group.Go(func() error {
			size, err := dataset.source.Size(groupCtx, file.TokenPath)
			if err != nil {
				return err
			}
			sizes[slot] = size
			return nil
		})
		if file.MaskPath != "" {
			group.Go(func() error {
				size, err := dataset.source.Size(groupCtx, file.MaskPath)
				if err != nil {
					return err
				}
				maskSizes[slot] = size
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return nil, 0, err
	}

	instanceBytes := int64(dataset.elementType.Size() * dataset.chunkSize)
	maskInstanceBytes := int64(types.MaskSize * dataset.chunkSize)
	offsets := make([]OffsetRange, 0, len(dataset.files))
	start := 0
	for fileIndex, file := range dataset.files {
		count := int(sizes[fileIndex] / instanceBytes)
		if file.MaskPath != "" {
			maskCount := int(maskSizes[fileIndex] / maskInstanceBytes)
			if maskCount != count {
				return nil, 0, fmt.Errorf(
					"%w: masking file `%s` should be the same size as `%s`",
					ErrConsistency, file.MaskPath, file.TokenPath)
			}
		}
		offsets = append(offsets, OffsetRange{Start: start, End: start + count})
		start += count
	}
	return offsets, start, nil
}

// locate
// Binary search for the range containing a resolved instance index. Ranges
// are contiguous and sorted by construction, so the first range whose End
// exceeds the index is the only candidate; empty ranges never match.
func locate(offsets []OffsetRange, index int) (int, bool) {
	fileIndex := sort.Search(len(offsets), func(i int) bool {
		return offsets[i].End > index
	})
	if fileIndex == len(offsets) || !offsets[fileIndex].Contains(index) {
		return 0, false
	}
	return fileIndex, true
}
