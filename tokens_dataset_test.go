package tokens_dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wbrown/tokens_dataset/types"
)

func writeTokenFile(
	t *testing.T,
	dir string,
	name string,
	et types.ElementType,
	tokens types.Tokens,
) string {
	t.Helper()
	bin, err := tokens.ToBin(et)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, *bin, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeMaskFile(
	t *testing.T,
	dir string,
	name string,
	mask types.Mask,
) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, *mask.ToBin(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func countingTokens(n int, start types.Token) types.Tokens {
	tokens := make(types.Tokens, n)
	for idx := range tokens {
		tokens[idx] = start + types.Token(idx)
	}
	return tokens
}

func tokenPtr(id types.Token) *types.Token {
	return &id
}

func boolPtr(value bool) *bool {
	return &value
}

func TestFloorDropsPartialChunk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(6, 0))

	dataset, err := NewDataset(Config{ChunkSize: 4}, path)
	assert.NoError(t, err)
	total, err := dataset.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)

	instance, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, countingTokens(4, 0), instance.InputIDs)

	_, err = dataset.Get(ctx, 1)
	var bounds *BoundsError
	assert.ErrorAs(t, err, &bounds)

	// A stray trailing byte cannot add an instance either; the probe math
	// is byte-based.
	six := countingTokens(6, 0)
	bin, _ := six.ToBin(types.Uint16)
	ragged := filepath.Join(dir, "ragged.bin")
	if err := os.WriteFile(ragged, append(*bin, 0x01), 0644); err != nil {
		t.Fatal(err)
	}
	raggedSet, err := NewDataset(Config{ChunkSize: 4}, ragged)
	assert.NoError(t, err)
	total, err = raggedSet.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestOffsetLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pathA := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(6, 0))
	pathB := writeTokenFile(t, dir, "b.bin", types.Uint16, countingTokens(1, 50))
	pathC := writeTokenFile(t, dir, "c.bin", types.Uint16, countingTokens(10, 100))

	dataset, err := NewDataset(Config{ChunkSize: 2}, pathA, pathB, pathC)
	assert.NoError(t, err)

	offsets, err := dataset.Offsets(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []OffsetRange{{0, 3}, {3, 3}, {3, 8}}, offsets)

	total, err := dataset.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 8, total)

	assert.Equal(t, 0, offsets[0].Start)
	for idx := 0; idx < len(offsets)-1; idx++ {
		assert.Equal(t, offsets[idx].End, offsets[idx+1].Start)
	}
	assert.Equal(t, total, offsets[len(offsets)-1].End)

	// Instance 3 is the first chunk of the third file; the empty file in
	// the middle serves nothing.
	instance, err := dataset.Get(ctx, 3)
	assert.NoError(t, err)
	assert.Equal(t, countingTokens(2, 100), instance.InputIDs)
}

func TestNegativeIndexing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(16, 0))
	dataset, err := NewDataset(Config{ChunkSize: 2}, path)
	assert.NoError(t, err)
	total, err := dataset.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 8, total)

	last, err := dataset.Get(ctx, total-1)
	assert.NoError(t, err)
	fromEnd, err := dataset.Get(ctx, -1)
	assert.NoError(t, err)
	assert.Equal(t, last.InputIDs, fromEnd.InputIDs)

	first, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	wrapped, err := dataset.Get(ctx, -total)
	assert.NoError(t, err)
	assert.Equal(t, first.InputIDs, wrapped.InputIDs)

	_, err = dataset.Get(ctx, -total-1)
	var bounds *BoundsError
	assert.ErrorAs(t, err, &bounds)
	assert.Equal(t, -total-1, bounds.Index)
	assert.Equal(t, total, bounds.Size)
	assert.EqualError(t, err,
		fmt.Sprintf("%d is out of bounds for dataset of size %d",
			-total-1, total))
}

func TestGetOutOfBounds(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(4, 0))
	dataset, err := NewDataset(Config{ChunkSize: 2}, path)
	assert.NoError(t, err)

	_, err = dataset.Get(ctx, 2)
	var bounds *BoundsError
	assert.ErrorAs(t, err, &bounds)
	assert.Equal(t, 2, bounds.Index)
	assert.Equal(t, 2, bounds.Size)
}

func TestEmptyDataset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(1, 0))
	dataset, err := NewDataset(Config{ChunkSize: 2}, path)
	assert.NoError(t, err)

	total, err := dataset.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, total)

	_, err = dataset.Get(ctx, 0)
	assert.EqualError(t, err, "0 is out of bounds for dataset of size 0")
	_, err = dataset.Get(ctx, -1)
	assert.EqualError(t, err, "-1 is out of bounds for dataset of size 0")
}

func TestLabelMasks(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(8, 0))
	maskPath := writeMaskFile(t, dir, "a.mask.bin",
		types.Mask{true, true, false, false, false, true, false, true})

	dataset, err := NewDataset(Config{
		ChunkSize:      4,
		LabelMaskPaths: []string{maskPath},
	}, path)
	assert.NoError(t, err)

	first, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Mask{true, true, false, false}, first.LabelMask)
	second, err := dataset.Get(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, types.Mask{false, true, false, true}, second.LabelMask)

	bare, err := NewDataset(Config{ChunkSize: 4}, path)
	assert.NoError(t, err)
	instance, err := bare.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Nil(t, instance.LabelMask)
}

func TestLabelMaskParity(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(8, 0))
	short := writeMaskFile(t, dir, "a.mask.bin",
		types.Mask{true, true, true, true, true, true, true})

	dataset, err := NewDataset(Config{
		ChunkSize:      4,
		LabelMaskPaths: []string{short},
	}, path)
	assert.NoError(t, err)

	_, err = dataset.Len(ctx)
	assert.ErrorIs(t, err, ErrConsistency)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), short)
}

func TestAttentionMask(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16,
		types.Tokens{5, 5, 0, 0})

	padded, err := NewDataset(Config{
		ChunkSize:             4,
		GenerateAttentionMask: true,
		PadTokenID:            tokenPtr(0),
	}, path)
	assert.NoError(t, err)
	instance, err := padded.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Mask{true, true, false, false},
		instance.AttentionMask)

	unpadded, err := NewDataset(Config{
		ChunkSize:             4,
		GenerateAttentionMask: true,
		PadTokenID:            tokenPtr(7),
	}, path)
	assert.NoError(t, err)
	instance, err = unpadded.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Mask{true, true, true, true},
		instance.AttentionMask)

	plain, err := NewDataset(Config{ChunkSize: 4}, path)
	assert.NoError(t, err)
	instance, err = plain.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Nil(t, instance.AttentionMask)
}

func TestConfigValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(4, 0))

	_, err := NewDataset(Config{})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "at least one path is required")

	_, err = NewDataset(Config{GenerateAttentionMask: true}, path)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "PadTokenID")

	_, err = NewDataset(Config{
		LabelMaskPaths: []string{"one.bin", "two.bin"},
	}, path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDataset(Config{
		Metadata:     map[string]interface{}{"a": 1},
		MetadataList: []map[string]interface{}{{"b": 2}},
	}, path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDataset(Config{
		MetadataList: []map[string]interface{}{{"a": 1}, {"b": 2}},
	}, path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDataset(Config{ChunkSize: -3}, path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDataset(Config{ElementType: types.ElementType(99)}, path)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewDataset(Config{MaxProbes: -1}, path)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestMetadataAttachment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	pathA := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(2, 0))
	pathB := writeTokenFile(t, dir, "b.bin", types.Uint16, countingTokens(2, 50))

	broadcast, err := NewDataset(Config{
		ChunkSize: 2,
		Metadata:  map[string]interface{}{"source": "common-crawl"},
	}, pathA, pathB)
	assert.NoError(t, err)
	for index := 0; index < 2; index++ {
		instance, err := broadcast.Get(ctx, index)
		assert.NoError(t, err)
		assert.Equal(t, "common-crawl", instance.Metadata["source"])
	}

	perFile, err := NewDataset(Config{
		ChunkSize: 2,
		MetadataList: []map[string]interface{}{
			{"part": 0},
			{"part": 1},
		},
	}, pathA, pathB)
	assert.NoError(t, err)
	first, err := perFile.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, first.Metadata["part"])
	second, err := perFile.Get(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, second.Metadata["part"])

	// With nothing configured, metadata is present but empty.
	def, err := NewDataset(Config{ChunkSize: 2}, pathA)
	assert.NoError(t, err)
	instance, err := def.Get(ctx, 0)
	assert.NoError(t, err)
	assert.NotNil(t, instance.Metadata)
	assert.Empty(t, instance.Metadata)

	disabled, err := NewDataset(Config{
		ChunkSize:               2,
		IncludeInstanceMetadata: boolPtr(false),
	}, pathA)
	assert.NoError(t, err)
	instance, err = disabled.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Nil(t, instance.Metadata)
}

func TestMetadataDeepCopy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(2, 0))

	dataset, err := NewDataset(Config{
		ChunkSize: 2,
		Metadata: map[string]interface{}{
			"info": map[string]interface{}{"name": "pile"},
			"tags": []interface{}{"web", "code"},
		},
	}, path)
	assert.NoError(t, err)

	first, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	first.Metadata["info"].(map[string]interface{})["name"] = "mutated"
	first.Metadata["tags"].([]interface{})[0] = "mutated"
	first.Metadata["extra"] = true

	second, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, "pile",
		second.Metadata["info"].(map[string]interface{})["name"])
	assert.Equal(t, "web", second.Metadata["tags"].([]interface{})[0])
	assert.NotContains(t, second.Metadata, "extra")
}

func TestInstancesNotCached(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(4, 0))
	dataset, err := NewDataset(Config{ChunkSize: 4}, path)
	assert.NoError(t, err)

	first, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Token(0), first.InputIDs[0])

	// Same byte length, new values: a fresh Get must see them.
	writeTokenFile(t, dir, "a.bin", types.Uint16, countingTokens(4, 500))
	second, err := dataset.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Token(500), second.InputIDs[0])
	assert.Equal(t, types.Token(0), first.InputIDs[0])
}

func TestWideElementTypes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	big := types.Tokens{1 << 20, 1<<20 + 1, 3, 4}
	widePath := writeTokenFile(t, dir, "wide.bin", types.Uint32, big)
	wide, err := NewDataset(Config{
		ChunkSize:   2,
		ElementType: types.Uint32,
	}, widePath)
	assert.NoError(t, err)
	instance, err := wide.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, big[:2], instance.InputIDs)

	signed := types.Tokens{-5, 9, -1, 2}
	signedPath := writeTokenFile(t, dir, "signed.bin", types.Int64, signed)
	signedSet, err := NewDataset(Config{
		ChunkSize:   2,
		ElementType: types.Int64,
	}, signedPath)
	assert.NoError(t, err)
	instance, err = signedSet.Get(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, types.Tokens{-5, 9}, instance.InputIDs)
}

func TestLocate(t *testing.T) {
	offsets := []OffsetRange{{0, 3}, {3, 3}, {3, 8}}
	for index, wantFile := range map[int]int{
		0: 0, 2: 0, 3: 2, 7: 2,
	} {
		fileIndex, ok := locate(offsets, index)
		assert.True(t, ok, index)
		assert.Equal(t, wantFile, fileIndex, index)
	}
	for _, index := range []int{-1, 8, 100} {
		_, ok := locate(offsets, index)
		assert.False(t, ok, index)
	}
	_, ok := locate(nil, 0)
	assert.False(t, ok)
}
