package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPSource
// Serves byte ranges from a plain HTTP(S) server via Range requests, with
// optional bearer token auth. Servers that ignore Range and answer 200 with
// the whole object are handled by discarding the prefix.
type HTTPSource struct {
	client *http.Client
	auth   string
}

// NewHTTPSource
// Build an HTTPSource around the given client (nil means
// http.DefaultClient). A non-empty auth string is sent as a bearer token.
func NewHTTPSource(client *http.Client, auth string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{client: client, auth: auth}
}

func (source *HTTPSource) do(
	ctx context.Context,
	method string,
	path string,
	byteRange string,
) (*http.Response, error) {
	req, reqErr := http.NewRequestWithContext(ctx, method, path, nil)
	if reqErr != nil {
		return nil, fmt.Errorf("%w: cannot build request for `%s`: %v",
			ErrTransient, path, reqErr)
	}
	if source.auth != "" {
		req.Header.Add("Authorization", "Bearer "+source.auth)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}
	resp, remoteErr := source.client.Do(req)
	if remoteErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: cannot retrieve `%s`: %v",
			ErrTransient, path, remoteErr)
	}
	return resp, nil
}

// classifyStatus
// Map a response status onto the package error taxonomy. 200 and 206 are
// both acceptable answers to a ranged GET.
func classifyStatus(path string, status int) error {
	switch status {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: `%s`", ErrNotFound, path)
	case http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("%w: `%s` rejected the requested range",
			ErrInvalidRange, path)
	default:
		return fmt.Errorf("%w: HTTP status code %d for `%s`",
			ErrTransient, status, path)
	}
}

func (source *HTTPSource) Size(
	ctx context.Context,
	path string,
) (int64, error) {
	resp, err := source.do(ctx, http.MethodHead, path, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(path, resp.StatusCode); err != nil {
		return 0, err
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: `%s` reported no Content-Length",
			ErrTransient, path)
	}
	return resp.ContentLength, nil
}

func (source *HTTPSource) ReadRange(
	ctx context.Context,
	path string,
	start int64,
	length int64,
) ([]byte, error) {
	if err := checkRange(path, start, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	byteRange := fmt.Sprintf("bytes=%d-%d", start, start+length-1)
	resp, err := source.do(ctx, http.MethodGet, path, byteRange)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := classifyStatus(path, resp.StatusCode); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK && start > 0 {
		// The server ignored Range and is sending the whole object.
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, shortBody(path, start, length, err)
		}
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, out); err != nil {
		return nil, shortBody(path, start, length, err)
	}
	return out, nil
}

// shortBody
// A body that ended before the requested range did means the range ran past
// the object (servers clamp ranged reads rather than failing them); anything
// else is a transport fault.
func shortBody(path string, start int64, length int64, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read [%d, %d) past end of `%s`",
			ErrInvalidRange, start, start+length, path)
	}
	return fmt.Errorf("%w: cannot retrieve `%s`: %v", ErrTransient, path, err)
}
