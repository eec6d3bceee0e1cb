package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	getBody         []byte
	getErr          error
	lastBucket      string
	lastKey         string
	lastBody        []byte
	lastContentType string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.lastBucket, f.lastKey = aws.ToString(in.Bucket), aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.getBody))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.lastBucket, f.lastKey = aws.ToString(in.Bucket), aws.ToString(in.Key)
	f.lastContentType = aws.ToString(in.ContentType)
	f.lastBody, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func withFakeS3(t *testing.T, f *fakeS3) {
	old := newS3Client
	newS3Client = func(ctx context.Context) (s3iface, error) { return f, nil }
	t.Cleanup(func() { newS3Client = old })
}

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out", "F1_Barcodes.xlsx")

	require.NoError(t, Write(context.Background(), "file://"+p, []byte("abc"), ""))
	got, err := Read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestS3ReadAndWrite(t *testing.T) {
	f := &fakeS3{getBody: []byte("EAN,sku,id\n")}
	withFakeS3(t, f)

	got, err := Read(context.Background(), "s3://exports/bol/listing.csv")
	require.NoError(t, err)
	assert.Equal(t, "EAN,sku,id\n", string(got))
	assert.Equal(t, "exports", f.lastBucket)
	assert.Equal(t, "bol/listing.csv", f.lastKey)

	require.NoError(t, Write(context.Background(), "s3://out/F1.xlsx", []byte("xlsx"), "application/x"))
	assert.Equal(t, "out", f.lastBucket)
	assert.Equal(t, "F1.xlsx", f.lastKey)
	assert.Equal(t, "xlsx", string(f.lastBody))
	assert.Equal(t, "application/x", f.lastContentType)
}

func TestS3ReadError(t *testing.T) {
	withFakeS3(t, &fakeS3{getErr: errors.New("access denied")})
	_, err := Read(context.Background(), "s3://b/k")
	assert.ErrorContains(t, err, "access denied")
}

func TestParseRejectsBadURIs(t *testing.T) {
	for _, uri := range []string{"s3://bucket", "s3:///key", "ftp://host/file"} {
		_, err := parse(uri)
		assert.Error(t, err, uri)
	}
}
