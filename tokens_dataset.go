// Package tokens_dataset provides random-access views over flat
// little-endian arrays of token IDs, the format dataset tokenizers write.
// Each array, local or in object storage, is chunked into fixed-size
// training instances; trailing tokens short of a full chunk are ignored.
// Views over several arrays behave as one dataset, and datasets concatenate
// without copying any data.
package tokens_dataset

import (
	"context"
	"fmt"
	"sync"

	"github.com/wbrown/tokens_dataset/storage"
	"github.com/wbrown/tokens_dataset/types"
)

const (
	// DefaultChunkSize is the number of token IDs per instance when the
	// configuration leaves ChunkSize zero.
	DefaultChunkSize = 1024

	// DefaultMaxProbes bounds how many size probes run concurrently while
	// the offset index builds.
	DefaultMaxProbes = 32
)

// SourceFile
// One token array belonging to a dataset, with its optional label-mask
// array and the metadata attached to every instance it serves. Immutable
// after construction.
type SourceFile struct {
	TokenPath string
	MaskPath  string
	Metadata  map[string]interface{}
}

// Config
// Construction parameters for NewDataset. The zero value is usable: 1024
// tokens per chunk, uint16 elements, metadata included, no attention masks,
// and a storage router that serves local paths and plain HTTP(S).
type Config struct {
	// ChunkSize is the number of token IDs per instance. Generally this
	// should correspond to the model's maximum input length.
	ChunkSize int

	// ElementType is the stored width of each token ID.
	ElementType types.ElementType

	// Metadata is attached to every instance from every file. Exclusive
	// with MetadataList.
	Metadata map[string]interface{}

	// MetadataList gives each file its own metadata; it must have exactly
	// one entry per path.
	MetadataList []map[string]interface{}

	// IncludeInstanceMetadata controls whether Get attaches metadata to
	// instances. Nil means true.
	IncludeInstanceMetadata *bool

	// GenerateAttentionMask makes Get derive an attention mask by marking
	// every non-padding position.
	GenerateAttentionMask bool

	// PadTokenID is the padding token. Required when GenerateAttentionMask
	// is set; only its presence matters, so a pad ID of zero works.
	PadTokenID *types.Token

	// LabelMaskPaths optionally pairs every token array with a boolean
	// label-mask array of the same instance count.
	LabelMaskPaths []string

	// Source resolves paths to bytes. Nil means storage.NewRouter().
	Source storage.ByteRangeSource

	// MaxProbes caps concurrent size probes during the index build. Zero
	// means DefaultMaxProbes.
	MaxProbes int
}

// Dataset
// A random-access view over one or more token arrays. The offset index is
// built at most once, on first use or via Build, and a failed build is
// retried on the next call rather than cached. Safe for concurrent use.
type Dataset struct {
	files       []SourceFile
	chunkSize   int
	elementType types.ElementType
	source      storage.ByteRangeSource
	maxProbes   int
	reader      chunkReader
	assembler   assembler

	mu      sync.Mutex
	offsets []OffsetRange
	total   int
	built   bool
}

// NewDataset
// Validate the configuration against the given token-array paths and build
// an unindexed Dataset. No I/O happens here; the first Build, Len, Offsets
// or Get call probes the files.
func NewDataset(cfg Config, paths ...string) (*Dataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: at least one path is required", ErrConfig)
	}
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: chunk size %d must be at least 1",
			ErrConfig, chunkSize)
	}
	if !cfg.ElementType.Valid() {
		return nil, fmt.Errorf("%w: unknown element type %d",
			ErrConfig, uint8(cfg.ElementType))
	}
	if cfg.GenerateAttentionMask && cfg.PadTokenID == nil {
		return nil, fmt.Errorf(
			"%w: 'PadTokenID' is required for 'GenerateAttentionMask'",
			ErrConfig)
	}
	if cfg.LabelMaskPaths != nil && len(cfg.LabelMaskPaths) != len(paths) {
		return nil, fmt.Errorf(
			"%w: there must be the same number of 'LabelMaskPaths' as there are paths",
			ErrConfig)
	}
	if cfg.Metadata != nil && cfg.MetadataList != nil {
		return nil, fmt.Errorf(
			"%w: 'Metadata' and 'MetadataList' are mutually exclusive",
			ErrConfig)
	}
	if cfg.MetadataList != nil && len(cfg.MetadataList) != len(paths) {
		return nil, fmt.Errorf(
			"%w: 'MetadataList' should have the same length as the number of file paths",
			ErrConfig)
	}
	if cfg.MaxProbes < 0 {
		return nil, fmt.Errorf("%w: 'MaxProbes' must not be negative",
			ErrConfig)
	}

	maxProbes := cfg.MaxProbes
	if maxProbes == 0 {
		maxProbes = DefaultMaxProbes
	}
	source := cfg.Source
	if source == nil {
		source = storage.NewRouter()
	}
	includeMetadata := true
	if cfg.IncludeInstanceMetadata != nil {
		includeMetadata = *cfg.IncludeInstanceMetadata
	}
	var padTokenID types.Token
	if cfg.PadTokenID != nil {
		padTokenID = *cfg.PadTokenID
	}

	files := make([]SourceFile, len(paths))
	for idx, path := range paths {
		file := SourceFile{TokenPath: path}
		if cfg.LabelMaskPaths != nil {
			file.MaskPath = cfg.LabelMaskPaths[idx]
		}
		switch {
		case cfg.MetadataList != nil:
			file.Metadata = cfg.MetadataList[idx]
		case cfg.Metadata != nil:
			file.Metadata = cfg.Metadata
		default:
			file.Metadata = map[string]interface{}{}
		}
		files[idx] = file
	}

	return &Dataset{
		files:       files,
		chunkSize:   chunkSize,
		elementType: cfg.ElementType,
		source:      source,
		maxProbes:   maxProbes,
		reader: chunkReader{
			source:      source,
			chunkSize:   chunkSize,
			elementType: cfg.ElementType,
		},
		assembler: assembler{
			includeMetadata: includeMetadata,
			attentionMask:   cfg.GenerateAttentionMask,
			padTokenID:      padTokenID,
		},
	}, nil
}

// ensureIndex
// Build-once cell for the offset index. The winner of a concurrent first
// use builds while the rest wait on the mutex and then observe the
// installed index. A build error leaves the cell empty.
func (dataset *Dataset) ensureIndex(ctx context.Context) error {
	dataset.mu.Lock()
	defer dataset.mu.Unlock()
	if dataset.built {
		return nil
	}
	offsets, total, err := dataset.buildIndex(ctx)
	if err != nil {
		return err
	}
	dataset.offsets = offsets
	dataset.total = total
	dataset.built = true
	return nil
}

// Build
// Force the offset index to exist, probing every file. Optional; every
// accessor builds on demand.
func (dataset *Dataset) Build(ctx context.Context) error {
	return dataset.ensureIndex(ctx)
}

// Len
// Total instances across all files.
func (dataset *Dataset) Len(ctx context.Context) (int, error) {
	if err := dataset.ensureIndex(ctx); err != nil {
		return 0, err
	}
	return dataset.total, nil
}

// Offsets
// The per-file instance ranges, in input order. The returned slice is a
// copy.
func (dataset *Dataset) Offsets(ctx context.Context) ([]OffsetRange, error) {
	if err := dataset.ensureIndex(ctx); err != nil {
		return nil, err
	}
	offsets := make([]OffsetRange, len(dataset.offsets))
	copy(offsets, dataset.offsets)
	return offsets, nil
}

// Get
// Fetch one instance by global index. Negative indices count back from the
// end. The two chunk reads this costs happen on every call; instances are
// never cached.
func (dataset *Dataset) Get(ctx context.Context, index int) (*Instance, error) {
	if err := dataset.ensureIndex(ctx); err != nil {
		return nil, err
	}
	pos := index
	if pos < 0 {
		pos = dataset.total + pos
	}
	if pos < 0 || pos >= dataset.total {
		return nil, &BoundsError{Index: index, Size: dataset.total}
	}
	fileIndex, ok := locate(dataset.offsets, pos)
	if !ok {
		return nil, fmt.Errorf(
			"%w: offset index has no range containing instance %d",
			ErrConsistency, pos)
	}
	file := dataset.files[fileIndex]
	localIndex := pos - dataset.offsets[fileIndex].Start

	tokens, err := dataset.reader.readTokens(ctx, file.TokenPath, localIndex)
	if err != nil {
		return nil, err
	}
	var labelMask types.Mask
	if file.MaskPath != "" {
		labelMask, err = dataset.reader.readMask(ctx, file.MaskPath, localIndex)
		if err != nil {
			return nil, err
		}
	}
	return dataset.assembler.assemble(tokens, labelMask, file.Metadata), nil
}

// Concat
// A new Dataset over this dataset's files followed by the other's. Both
// operands keep their own indexes untouched; the result starts unindexed
// and reads through the receiver's storage source. Chunk size, element type
// and instance settings must match, so that the result answers Get exactly
// as the operands would.
func (dataset *Dataset) Concat(other *Dataset) (*Dataset, error) {
	if dataset.chunkSize != other.chunkSize {
		return nil, fmt.Errorf(
			"%w: cannot concatenate datasets with chunk sizes %d and %d",
			ErrConfig, dataset.chunkSize, other.chunkSize)
	}
	if dataset.elementType != other.elementType {
		return nil, fmt.Errorf(
			"%w: cannot concatenate datasets with element types %s and %s",
			ErrConfig, dataset.elementType, other.elementType)
	}
	if dataset.assembler != other.assembler {
		return nil, fmt.Errorf(
			"%w: cannot concatenate datasets with different metadata or attention mask settings",
			ErrConfig)
	}
	files := make([]SourceFile, 0, len(dataset.files)+len(other.files))
	files = append(files, dataset.files...)
	files = append(files, other.files...)
	return &Dataset{
		files:       files,
		chunkSize:   dataset.chunkSize,
		elementType: dataset.elementType,
		source:      dataset.source,
		maxProbes:   dataset.maxProbes,
		reader:      dataset.reader,
		assembler:   dataset.assembler,
	}, nil
}

func (dataset *Dataset) ChunkSize() int {
	return dataset.chunkSize
}

func (dataset *Dataset) ElementType() types.ElementType {
	return dataset.elementType
}

// Files
// The files backing this dataset, in instance order.
func (dataset *Dataset) Files() []SourceFile {
	files := make([]SourceFile, len(dataset.files))
	copy(files, dataset.files)
	return files
}
