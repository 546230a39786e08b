package bytesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// s3API is the subset of the S3 client used, so tests can substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Resource is a Source backed by an S3 (or S3-compatible) object, fetched
// via ranged GetObject calls. NISAR GCOV products are commonly staged on S3
// by ASF/EarthData, so this is a second concrete remote byte source
// alongside plain HTTPS.
type S3Resource struct {
	client s3API
	bucket string
	key    string

	sizeOnce sync.Once
	size     int64
	sizeErr  error
}

// NewS3Resource creates an S3Resource for the given bucket/key using client.
func NewS3Resource(client *s3.Client, bucket, key string) *S3Resource {
	return &S3Resource{client: client, bucket: bucket, key: key}
}

func (s *S3Resource) Read(ctx context.Context, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) && respErr.Response != nil &&
			respErr.Response.StatusCode != 200 && respErr.Response.StatusCode != 206 {
			return nil, ioErrorf("GetObject", fmt.Errorf("unexpected status %d", respErr.Response.StatusCode))
		}
		return nil, ioErrorf("GetObject", err)
	}
	defer out.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(out.Body, length))
	if err != nil {
		return nil, ioErrorf("reading object body", err)
	}
	if int64(len(buf)) != length {
		return nil, ioErrorf("GetObject", fmt.Errorf("%w: got %d bytes, want %d", ErrShortRead, len(buf), length))
	}
	return buf, nil
}

func (s *S3Resource) Size(ctx context.Context) (int64, error) {
	s.sizeOnce.Do(func() {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key),
		})
		if err != nil {
			s.sizeErr = ioErrorf("HeadObject", err)
			return
		}
		if out.ContentLength == nil {
			s.sizeErr = ioErrorf("HeadObject", fmt.Errorf("no Content-Length in response"))
			return
		}
		s.size = *out.ContentLength
	})
	return s.size, s.sizeErr
}

func (s *S3Resource) Close() error { return nil }
