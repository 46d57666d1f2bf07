package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	lru "github.com/hashicorp/golang-lru"
)

// FILE_LRU_SZ bounds how many file handles a FileSource keeps open at once.
const FILE_LRU_SZ = 128

// FileSource
// Serves byte ranges from the local filesystem via pread, holding an LRU
// cache of open handles so repeated reads against the same array skip the
// open. Eviction closes the handle; a read that loses the eviction race
// reopens and retries.
type FileSource struct {
	mu       sync.Mutex
	handles  *lru.Cache
	mapFiles bool
}

// NewFileSource
// A FileSource that reads with pread.
func NewFileSource() *FileSource {
	return newFileSource(false)
}

// NewMmapFileSource
// A FileSource that maps each file read-only and serves ranges by copying
// out of the mapping. Eviction unmaps.
func NewMmapFileSource() *FileSource {
	return newFileSource(true)
}

func newFileSource(mapFiles bool) *FileSource {
	source := &FileSource{mapFiles: mapFiles}
	source.handles, _ = lru.NewWithEvict(FILE_LRU_SZ,
		func(_ interface{}, value interface{}) {
			value.(*fileHandle).close()
		})
	return source
}

// localPath
// Strip the optional `file://` scheme.
func localPath(path string) string {
	if scheme, rest := splitScheme(path); scheme == "file" {
		return rest
	}
	return path
}

func (source *FileSource) Size(
	ctx context.Context,
	path string,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(localPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: `%s`", ErrNotFound, path)
		}
		return 0, fmt.Errorf("%w: cannot stat `%s`: %v",
			ErrTransient, path, err)
	}
	return info.Size(), nil
}

func (source *FileSource) ReadRange(
	ctx context.Context,
	path string,
	start int64,
	length int64,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRange(path, start, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	for attempt := 0; attempt < 3; attempt++ {
		handle, err := source.handle(path)
		if err != nil {
			return nil, err
		}
		data, err := handle.readAt(path, start, length)
		if errors.Is(err, os.ErrClosed) {
			// Evicted between lookup and read; reopen.
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("%w: handle for `%s` evicted repeatedly during read",
		ErrTransient, path)
}

// handle
// Fetch the cached handle for a path, opening it on a miss. The mutex keeps
// concurrent misses from opening the same file twice, which would leak the
// loser's handle when Add replaces it.
func (source *FileSource) handle(path string) (*fileHandle, error) {
	if cached, ok := source.handles.Get(path); ok {
		return cached.(*fileHandle), nil
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if cached, ok := source.handles.Get(path); ok {
		return cached.(*fileHandle), nil
	}
	handle, err := openHandle(path, source.mapFiles)
	if err != nil {
		return nil, err
	}
	source.handles.Add(path, handle)
	return handle, nil
}

// fileHandle
// One open file, optionally mapped. The RWMutex lets reads proceed in
// parallel while guaranteeing close never unmaps memory a copy is still
// walking.
type fileHandle struct {
	mu     sync.RWMutex
	file   *os.File
	mapped mmap.MMap
	size   int64
	closed bool
}

func openHandle(path string, mapFile bool) (*fileHandle, error) {
	file, err := os.Open(localPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: `%s`", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: cannot open `%s`: %v",
			ErrTransient, path, err)
	}
	info, statErr := file.Stat()
	if statErr != nil {
		file.Close()
		return nil, fmt.Errorf("%w: cannot stat `%s`: %v",
			ErrTransient, path, statErr)
	}
	handle := &fileHandle{file: file, size: info.Size()}
	// Zero-length files cannot be mapped; any non-empty range against them
	// is out of bounds anyway.
	if mapFile && handle.size > 0 {
		mapped, mmapErr := mmap.Map(file, mmap.RDONLY, 0)
		if mmapErr != nil {
			file.Close()
			return nil, fmt.Errorf("%w: cannot mmap `%s`: %v",
				ErrTransient, path, mmapErr)
		}
		handle.mapped = mapped
	}
	return handle, nil
}

func (handle *fileHandle) readAt(
	path string,
	start int64,
	length int64,
) ([]byte, error) {
	handle.mu.RLock()
	defer handle.mu.RUnlock()
	if handle.closed {
		return nil, os.ErrClosed
	}
	out := make([]byte, length)
	if handle.mapped != nil {
		if start+length > int64(len(handle.mapped)) {
			return nil, fmt.Errorf(
				"%w: read [%d, %d) past end of `%s` (%d bytes)",
				ErrInvalidRange, start, start+length, path,
				len(handle.mapped))
		}
		copy(out, handle.mapped[start:start+length])
		return out, nil
	}
	_, err := handle.file.ReadAt(out, start)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read [%d, %d) past end of `%s`",
			ErrInvalidRange, start, start+length, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read `%s`: %v",
			ErrTransient, path, err)
	}
	return out, nil
}

func (handle *fileHandle) close() {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.closed {
		return
	}
	handle.closed = true
	if handle.mapped != nil {
		_ = handle.mapped.Unmap()
		handle.mapped = nil
	}
	_ = handle.file.Close()
}
