// Package s3 implements content.Store on Amazon S3 or an S3-compatible
// endpoint (MinIO, Localstack, Cubbit DS3).
//
// S3 objects are immutable, so partial updates are read-modify-write: the
// store downloads the object, patches it in memory and uploads the result.
// That keeps the implementation correct for any offset but makes small
// writes to large objects expensive; the intended use is as the badger
// node store's bulk-payload backend, where whole-file rewrites dominate.
// Concurrent writers to the same object are last-write-wins, as the
// content.Store contract allows.
//
// Reads use ranged GetObject calls and never download more than asked for.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/tidefs/tidegate/pkg/tide/content"
)

// Config carries what New needs. The client is built by the caller so
// credential and endpoint wiring stays in one place (pkg/config).
type Config struct {
	// Client is a configured S3 client.
	Client *s3.Client

	// Bucket is the bucket holding all objects. It must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, e.g. "tidegate/".
	KeyPrefix string
}

// Store is an S3-backed content.Store.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

var _ content.Store = (*Store)(nil)

// New verifies bucket access and returns the store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 content store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 content store: bucket is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *Store) objectKey(id content.ID) string {
	return s.keyPrefix + string(id)
}

// ReadAt fetches [offset, offset+len(p)) with a ranged GetObject. Absent
// objects and ranges past the end read as empty.
func (s *Store) ReadAt(ctx context.Context, id content.ID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+uint64(len(p))-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Range:  aws.String(rng),
	})
	if err != nil {
		// A range starting past the object end comes back as
		// InvalidRange, which for this store just means eof.
		if isAbsent(err) || hasErrorCode(err, "InvalidRange") {
			return 0, nil
		}
		return 0, fmt.Errorf("ranged get of %s: %w", id, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("reading body of %s: %w", id, err)
	}
	return n, nil
}

// WriteAt patches [offset, offset+len(p)) into the object. Writes that
// cover the whole object upload p directly; everything else is
// read-modify-write.
func (s *Store) WriteAt(ctx context.Context, id content.ID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	size, err := s.Size(ctx, id)
	if err != nil {
		return 0, err
	}

	if offset == 0 && uint64(len(p)) >= size {
		if err := s.put(ctx, id, p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	end := offset + uint64(len(p))
	if end < size {
		end = size
	}
	buf := make([]byte, end)
	if size > 0 {
		if _, err := s.readAll(ctx, id, buf[:size]); err != nil {
			return 0, err
		}
	}
	copy(buf[offset:], p)

	if err := s.put(ctx, id, buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Truncate rewrites the object at the new length, zero-filling on growth.
func (s *Store) Truncate(ctx context.Context, id content.ID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	current, err := s.Size(ctx, id)
	if err != nil {
		return err
	}
	if current == size {
		return nil
	}

	buf := make([]byte, size)
	keep := current
	if size < keep {
		keep = size
	}
	if keep > 0 {
		if _, err := s.readAll(ctx, id, buf[:keep]); err != nil {
			return err
		}
	}
	return s.put(ctx, id, buf)
}

// Size reports the object length via HeadObject. Absent objects report 0.
func (s *Store) Size(ctx context.Context, id content.ID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isAbsent(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("head of %s: %w", id, err)
	}
	if out.ContentLength == nil {
		return 0, fmt.Errorf("head of %s: content length not available", id)
	}
	return uint64(*out.ContentLength), nil
}

// Remove deletes the object. S3 reports success for absent keys, which
// gives the idempotency the contract asks for.
func (s *Store) Remove(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("delete of %s: %w", id, err)
	}
	return nil
}

// Close is a no-op: the S3 client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// readAll fills p from the front of the object.
func (s *Store) readAll(ctx context.Context, id content.ID, p []byte) (int, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isAbsent(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get of %s: %w", id, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("reading body of %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) put(ctx context.Context, id content.ID, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put of %s: %w", id, err)
	}
	return nil
}

// isAbsent reports whether err means "no such object". GetObject surfaces
// NoSuchKey; HeadObject surfaces a bare 404 NotFound.
func isAbsent(err error) bool {
	return hasErrorCode(err, "NoSuchKey") || hasErrorCode(err, "NotFound")
}

func hasErrorCode(err error, code string) bool {
	var apiError smithy.APIError
	return errors.As(err, &apiError) && apiError.ErrorCode() == code
}
