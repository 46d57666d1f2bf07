package tokens_dataset

import (
	"context"
	"fmt"

	"github.com/wbrown/tokens_dataset/storage"
	"github.com/wbrown/tokens_dataset/types"
)

// chunkReader
// Turns a file-local instance index into the exact byte range holding that
// chunk and decodes it. Storage errors pass through untouched; they already
// name the path. A successful read that decodes to the wrong element count
// means the layout lied about the file, which is a consistency fault rather
// than an I/O one.
type chunkReader struct {
	source      storage.ByteRangeSource
	chunkSize   int
	elementType types.ElementType
}

func (reader *chunkReader) readTokens(
	ctx context.Context,
	path string,
	localIndex int,
) (types.Tokens, error) {
	width := int64(reader.elementType.Size())
	length := width * int64(reader.chunkSize)
	start := int64(localIndex) * length
	buffer, err := reader.source.ReadRange(ctx, path, start, length)
	if err != nil {
		return nil, err
	}
	tokens, decodeErr := types.TokensFromBin(&buffer, reader.elementType)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: `%s`: %v", ErrConsistency, path, decodeErr)
	}
	if len(*tokens) != reader.chunkSize {
		return nil, fmt.Errorf(
			"%w: decoded %d tokens from `%s`, expected %d",
			ErrConsistency, len(*tokens), path, reader.chunkSize)
	}
	return *tokens, nil
}

func (reader *chunkReader) readMask(
	ctx context.Context,
	path string,
	localIndex int,
) (types.Mask, error) {
	length := int64(types.MaskSize * reader.chunkSize)
	start := int64(localIndex) * length
	buffer, err := reader.source.ReadRange(ctx, path, start, length)
	if err != nil {
		return nil, err
	}
	mask := types.MaskFromBin(&buffer)
	if len(*mask) != reader.chunkSize {
		return nil, fmt.Errorf(
			"%w: decoded %d mask elements from `%s`, expected %d",
			ErrConsistency, len(*mask), path, reader.chunkSize)
	}
	return *mask, nil
}
