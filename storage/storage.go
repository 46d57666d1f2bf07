// Package storage resolves token-array locations, local or remote, into
// exact byte ranges. Every backend answers two questions about a path: how
// many bytes the object holds, and what the bytes in [start, start+length)
// are. Callers never learn which backend served them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports that a path names no object in its backend.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidRange reports a requested byte range that the object
	// cannot satisfy.
	ErrInvalidRange = errors.New("invalid byte range")

	// ErrTransient reports a network or I/O failure that a retry may
	// resolve. Nothing in this package retries; callers decide.
	ErrTransient = errors.New("transient storage failure")

	// ErrUnsupportedScheme reports a path whose scheme has no registered
	// backend.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// ByteRangeSource
// A store of immutable byte arrays addressed by path. ReadRange returns
// exactly `length` bytes starting at `start`, or an error; partial results
// are never returned.
type ByteRangeSource interface {
	Size(ctx context.Context, path string) (int64, error)
	ReadRange(ctx context.Context, path string, start, length int64) ([]byte, error)
}

// splitScheme
// Split a path of the form `scheme://rest` into its scheme and remainder.
// Paths without a `://` separator have an empty scheme.
func splitScheme(path string) (scheme string, rest string) {
	before, after, found := strings.Cut(path, "://")
	if !found || strings.ContainsAny(before, "/\\") {
		return "", path
	}
	return strings.ToLower(before), after
}

// Scheme
// The lowercased scheme of a path, or "" for plain local paths.
func Scheme(path string) string {
	scheme, _ := splitScheme(path)
	return scheme
}

// checkRange
// Validate a requested range against basic sanity before any I/O happens.
func checkRange(path string, start int64, length int64) error {
	if start < 0 || length < 0 {
		return fmt.Errorf("%w: negative range %d+%d for `%s`",
			ErrInvalidRange, start, length, path)
	}
	return nil
}

// Router
// Dispatches each path to the backend registered for its scheme. Paths with
// no scheme go to the local filesystem backend. The Router is itself a
// ByteRangeSource, so a Dataset configured with one can mix local and remote
// files freely.
type Router struct {
	backends map[string]ByteRangeSource
	local    ByteRangeSource
}

// NewRouter
// Build a Router with the local filesystem and plain HTTP(S) backends
// registered. Object-store backends carry credentials, so they are
// registered explicitly by the caller via Register.
func NewRouter() *Router {
	return routerWith(NewFileSource())
}

// NewMmapRouter
// Like NewRouter, but local paths are served through memory maps.
func NewMmapRouter() *Router {
	return routerWith(NewMmapFileSource())
}

func routerWith(local *FileSource) *Router {
	web := NewHTTPSource(nil, "")
	return &Router{
		backends: map[string]ByteRangeSource{
			"file":  local,
			"http":  web,
			"https": web,
		},
		local: local,
	}
}

// Register
// Attach a backend to a scheme, replacing any previous registration.
func (router *Router) Register(scheme string, source ByteRangeSource) {
	router.backends[strings.ToLower(scheme)] = source
}

// resolve
// Find the backend responsible for a path.
func (router *Router) resolve(path string) (ByteRangeSource, error) {
	scheme, _ := splitScheme(path)
	if scheme == "" {
		return router.local, nil
	}
	if backend, ok := router.backends[scheme]; ok {
		return backend, nil
	}
	return nil, fmt.Errorf("%w: no backend registered for `%s`",
		ErrUnsupportedScheme, path)
}

func (router *Router) Size(ctx context.Context, path string) (int64, error) {
	backend, err := router.resolve(path)
	if err != nil {
		return 0, err
	}
	return backend.Size(ctx, path)
}

func (router *Router) ReadRange(
	ctx context.Context,
	path string,
	start int64,
	length int64,
) ([]byte, error) {
	backend, err := router.resolve(path)
	if err != nil {
		return nil, err
	}
	return backend.ReadRange(ctx, path, start, length)
}
