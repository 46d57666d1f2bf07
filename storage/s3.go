package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Source
// Serves byte ranges from an S3-compatible object store. One S3Source wraps
// one client, so stores with distinct endpoints (AWS S3, Cloudflare R2, a
// WEKA cluster) each get their own instance, registered under their own
// scheme. Paths look like `s3://bucket/key/to/array.bin`.
type S3Source struct {
	client *minio.Client
}

// NewS3Source
// Wrap an already-configured client. Construction happens once, up front;
// the read path never builds clients.
func NewS3Source(client *minio.Client) *S3Source {
	return &S3Source{client: client}
}

// NewS3SourceFromEnv
// Build a client for the given scheme from the environment: the endpoint
// from S3_ENDPOINT_URL, R2_ENDPOINT_URL or WEKA_ENDPOINT_URL (s3 alone may
// omit it and defaults to AWS), credentials from the standard AWS chain
// (environment, shared credentials file, IAM role).
func NewS3SourceFromEnv(scheme string) (*S3Source, error) {
	endpoint, secure, err := endpointFor(scheme)
	if err != nil {
		return nil, err
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{},
	})
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot build %s client for `%s`: %v",
			scheme, endpoint, err)
	}
	return NewS3Source(client), nil
}

func endpointFor(scheme string) (string, bool, error) {
	var raw string
	switch strings.ToLower(scheme) {
	case "s3":
		raw = os.Getenv("S3_ENDPOINT_URL")
		if raw == "" {
			return "s3.amazonaws.com", true, nil
		}
	case "r2":
		raw = os.Getenv("R2_ENDPOINT_URL")
		if raw == "" {
			return "", false, errors.New(
				"R2_ENDPOINT_URL must be set to use r2:// paths")
		}
	case "weka":
		raw = os.Getenv("WEKA_ENDPOINT_URL")
		if raw == "" {
			return "", false, errors.New(
				"WEKA_ENDPOINT_URL must be set to use weka:// paths")
		}
	default:
		return "", false, fmt.Errorf("%w: `%s`", ErrUnsupportedScheme, scheme)
	}
	if host, found := strings.CutPrefix(raw, "https://"); found {
		return host, true, nil
	}
	if host, found := strings.CutPrefix(raw, "http://"); found {
		return host, false, nil
	}
	return raw, true, nil
}

// splitObjectPath
// Break `scheme://bucket/key` into bucket and key.
func splitObjectPath(path string) (string, string, error) {
	_, rest := splitScheme(path)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf(
			"%w: `%s` does not name a bucket and key", ErrNotFound, path)
	}
	return bucket, key, nil
}

func (source *S3Source) Size(
	ctx context.Context,
	path string,
) (int64, error) {
	bucket, key, err := splitObjectPath(path)
	if err != nil {
		return 0, err
	}
	info, statErr := source.client.StatObject(
		ctx, bucket, key, minio.StatObjectOptions{})
	if statErr != nil {
		return 0, classifyObjectError(ctx, path, statErr)
	}
	return info.Size, nil
}

func (source *S3Source) ReadRange(
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
	bucket, key, err := splitObjectPath(path)
	if err != nil {
		return nil, err
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, start+length-1); err != nil {
		return nil, fmt.Errorf("%w: [%d, %d) for `%s`: %v",
			ErrInvalidRange, start, start+length, path, err)
	}
	object, getErr := source.client.GetObject(ctx, bucket, key, opts)
	if getErr != nil {
		return nil, classifyObjectError(ctx, path, getErr)
	}
	defer object.Close()
	out := make([]byte, length)
	if _, err := io.ReadFull(object, out); err != nil {
		return nil, classifyObjectError(ctx, path, err)
	}
	return out, nil
}

// classifyObjectError
// Map a minio error onto the package taxonomy. GetObject defers failures to
// the first Read, so this sees both request construction and body errors.
func classifyObjectError(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch {
		case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" ||
			resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: `%s`", ErrNotFound, path)
		case resp.Code == "InvalidRange" ||
			resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			return fmt.Errorf("%w: `%s` rejected the requested range",
				ErrInvalidRange, path)
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: object `%s` shorter than requested range",
			ErrInvalidRange, path)
	}
	return fmt.Errorf("%w: cannot retrieve `%s`: %v", ErrTransient, path, err)
}
