// Package storage reads and writes whole objects addressed by URI: plain
// paths, file:// and s3://bucket/key.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// s3iface is the subset of the S3 client used here.
type s3iface interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client is replaced in tests.
var newS3Client = func(ctx context.Context) (s3iface, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

type location struct {
	path   string
	bucket string
	key    string
}

func parse(uri string) (location, error) {
	if !strings.Contains(uri, "://") {
		return location{path: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return location{}, fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	switch u.Scheme {
	case "file":
		return location{path: strings.TrimPrefix(uri, "file://")}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return location{}, fmt.Errorf("s3 uri %q needs a bucket and a key", uri)
		}
		return location{bucket: u.Host, key: key}, nil
	default:
		return location{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// Read returns the full contents at uri.
func Read(ctx context.Context, uri string) ([]byte, error) {
	loc, err := parse(uri)
	if err != nil {
		return nil, err
	}
	if loc.bucket == "" {
		data, err := os.ReadFile(loc.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", loc.path, err)
		}
		return data, nil
	}

	cl, err := newS3Client(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := cl.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", uri, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("Read object")
	return data, nil
}

// Write stores data at uri, creating parent directories for local paths.
func Write(ctx context.Context, uri string, data []byte, contentType string) error {
	loc, err := parse(uri)
	if err != nil {
		return err
	}
	if loc.bucket == "" {
		if dir := filepath.Dir(loc.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(loc.path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", loc.path, err)
		}
		return nil
	}

	cl, err := newS3Client(ctx)
	if err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(loc.bucket),
		Key:    aws.String(loc.key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := cl.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put %s: %w", uri, err)
	}
	log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("Wrote object")
	return nil
}
