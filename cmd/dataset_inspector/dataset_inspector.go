package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yargevad/filepathx"

	"github.com/wbrown/tokens_dataset"
	"github.com/wbrown/tokens_dataset/storage"
	"github.com/wbrown/tokens_dataset/types"
)

// ExpandInputs
// Resolve the command line's token-array arguments: remote URLs pass
// through untouched, local arguments containing glob characters expand via
// `**`-aware globbing, and everything else is taken as a literal path.
func ExpandInputs(args []string) ([]string, error) {
	paths := make([]string, 0, len(args))
	for _, arg := range args {
		if storage.Scheme(arg) != "" {
			paths = append(paths, arg)
			continue
		}
		if !strings.ContainsAny(arg, "*?[") {
			paths = append(paths, arg)
			continue
		}
		matches, err := filepathx.Glob(arg)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, errors.New(fmt.Sprintf(
				"%s does not match any files", arg))
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}

// RegisterRemotes
// Attach an object-store backend for every s3/r2/weka scheme that appears
// in the inputs, before any concurrent probing starts.
func RegisterRemotes(router *storage.Router, paths []string) error {
	registered := make(map[string]bool)
	for _, path := range paths {
		switch scheme := storage.Scheme(path); scheme {
		case "s3", "r2", "weka":
			if registered[scheme] {
				continue
			}
			source, err := storage.NewS3SourceFromEnv(scheme)
			if err != nil {
				return err
			}
			router.Register(scheme, source)
			registered[scheme] = true
		}
	}
	return nil
}

// CountSet
// How many positions of a mask are true.
func CountSet(mask types.Mask) int {
	count := 0
	for _, set := range mask {
		if set {
			count++
		}
	}
	return count
}

func main() {
	chunkSize := flag.Int("chunk_size", 1024,
		"number of token IDs per instance")
	dtypeName := flag.String("dtype", "uint16",
		"stored element type: uint8, uint16, uint32, int32 or int64")
	maskList := flag.String("masks", "",
		"comma-separated label mask paths, one per token array")
	padToken := flag.String("pad", "",
		"padding token ID; generates attention masks when set")
	showIndex := flag.String("show", "",
		"instance index to fetch and print, negative counts from the end")
	useMmap := flag.Bool("mmap", false,
		"read local files through memory maps")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatal("Must provide at least one token array path")
	}

	elementType, dtypeErr := types.ParseElementType(*dtypeName)
	if dtypeErr != nil {
		log.Fatal(dtypeErr)
	}

	paths, pathErr := ExpandInputs(flag.Args())
	if pathErr != nil {
		log.Fatal(pathErr)
	}

	var router *storage.Router
	if *useMmap {
		router = storage.NewMmapRouter()
	} else {
		router = storage.NewRouter()
	}

	cfg := tokens_dataset.Config{
		ChunkSize:   *chunkSize,
		ElementType: elementType,
		Source:      router,
	}
	if *maskList != "" {
		cfg.LabelMaskPaths = strings.Split(*maskList, ",")
	}
	if *padToken != "" {
		pad, padErr := strconv.ParseInt(*padToken, 10, 64)
		if padErr != nil {
			log.Fatal("Padding token ID must be an integer")
		}
		padID := types.Token(pad)
		cfg.GenerateAttentionMask = true
		cfg.PadTokenID = &padID
	}
	if remoteErr := RegisterRemotes(router,
		append(append([]string{}, paths...), cfg.LabelMaskPaths...)); remoteErr != nil {
		log.Fatal(remoteErr)
	}

	dataset, dsErr := tokens_dataset.NewDataset(cfg, paths...)
	if dsErr != nil {
		log.Fatal(dsErr)
	}

	log.Printf("Chunk size: %d tokens of %s\n", *chunkSize, elementType)
	ctx := context.Background()
	offsets, buildErr := dataset.Offsets(ctx)
	if buildErr != nil {
		log.Fatal(buildErr)
	}
	var totalBytes uint64
	for fileIdx, file := range dataset.Files() {
		size, sizeErr := router.Size(ctx, file.TokenPath)
		if sizeErr != nil {
			log.Fatal(sizeErr)
		}
		totalBytes += uint64(size)
		span := offsets[fileIdx]
		log.Printf("%s: %s, %d instances, offsets [%d, %d)\n",
			file.TokenPath, humanize.Bytes(uint64(size)),
			span.Len(), span.Start, span.End)
	}
	total, lenErr := dataset.Len(ctx)
	if lenErr != nil {
		log.Fatal(lenErr)
	}
	log.Printf("Total: %d instances across %d files, %s\n",
		total, len(offsets), humanize.Bytes(totalBytes))

	if *showIndex != "" {
		index, indexErr := strconv.Atoi(*showIndex)
		if indexErr != nil {
			log.Fatal("Instance index must be an integer")
		}
		instance, getErr := dataset.Get(ctx, index)
		if getErr != nil {
			log.Fatal(getErr)
		}
		log.Printf("Instance %d: %v\n", index, instance.InputIDs)
		if instance.LabelMask != nil {
			log.Printf("Label mask: %d of %d positions kept\n",
				CountSet(instance.LabelMask), len(instance.LabelMask))
		}
		if instance.AttentionMask != nil {
			log.Printf("Attention mask: %d of %d positions live\n",
				CountSet(instance.AttentionMask),
				len(instance.AttentionMask))
		}
		if len(instance.Metadata) > 0 {
			log.Printf("Metadata: %v\n", instance.Metadata)
		}
	}
}
