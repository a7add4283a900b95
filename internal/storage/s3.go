package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// S3Backend stores objects in a single bucket of an S3-compatible service.
// Server-side traffic always goes through the internal client; presigned
// uploads are signed against the public endpoint and presigned downloads
// against the internal one.
//
// Key mapping:
//
//	Objects:  {prefix}{category}/{owner}/{discriminator}.{ext}
type S3Backend struct {
	// Bucket is the upstream bucket name.
	Bucket string
	// Prefix is prepended to every key in the upstream bucket.
	Prefix string
	// PartSize is the multipart chunk size. Upload memory is bounded by
	// PartSize * Concurrency.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel.
	Concurrency int
	// ReadTimeout cancels a GetObject whose body stalls for this long.
	ReadTimeout time.Duration

	clients ClientSource
}

// NewS3Backend creates a backend that takes its clients from clients.
func NewS3Backend(bucket, prefix string, clients ClientSource) *S3Backend {
	return &S3Backend{
		Bucket:      bucket,
		Prefix:      prefix,
		PartSize:    manager.DefaultUploadPartSize,
		Concurrency: manager.DefaultUploadConcurrency,
		clients:     clients,
	}
}

// NewS3BackendWithClient creates an S3Backend with a pre-configured client
// and presigner. This is primarily used for testing with mock clients.
func NewS3BackendWithClient(bucket, prefix string, client S3API, presigner Presigner) *S3Backend {
	return NewS3Backend(bucket, prefix, staticClients{client: client, presigner: presigner})
}

// Name implements ObjectStore.
func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) s3Key(key string) string {
	return b.Prefix + key
}

// PutObject streams body to the bucket through the upload manager. Bodies
// smaller than PartSize go up in a single PutObject; larger ones become a
// multipart upload that is aborted if the body fails mid-way.
func (b *S3Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error) {
	client, err := b.clients.S3(ctx, EndpointInternal)
	if err != nil {
		return 0, err
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if b.PartSize > 0 {
			u.PartSize = b.PartSize
		}
		if b.Concurrency > 0 {
			u.Concurrency = b.Concurrency
		}
	})

	cr := &countingReader{r: body}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(b.s3Key(key)),
		Body:        cr,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return cr.n, classify("put", key, err)
	}
	return cr.n, nil
}

// GetObject reads the object, or the span rng when it is non-nil. The
// returned Length is the backend's Content-Length for the response.
func (b *S3Backend) GetObject(ctx context.Context, key string, rng *ByteRange) (*ObjectReader, error) {
	client, err := b.clients.S3(ctx, EndpointInternal)
	if err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	}
	if rng != nil {
		input.Range = aws.String(rng.HeaderValue())
	}

	ctx, cancel := context.WithCancel(ctx)
	resp, err := client.GetObject(ctx, input)
	if err != nil {
		cancel()
		switch {
		case isS3NotFound(err):
			return nil, notFound(key)
		case rng != nil && isS3InvalidRange(err):
			return nil, gwerr.ErrRangeNotSatisfiable.WithMessage("range %s is outside %s", rng.HeaderValue(), key)
		}
		return nil, classify("get", key, err)
	}

	length := aws.ToInt64(resp.ContentLength)
	size := length
	if rng != nil {
		total, ok := contentRangeTotal(aws.ToString(resp.ContentRange))
		if !ok {
			resp.Body.Close()
			cancel()
			return nil, gwerr.ErrStorageUnavailable.WithMessage(
				"get %s: backend answered a ranged read without a usable Content-Range (%q)",
				key, aws.ToString(resp.ContentRange))
		}
		size = total
	}

	return &ObjectReader{
		Body:   newIdleTimeoutBody(resp.Body, b.ReadTimeout, cancel),
		Length: length,
		Info: ObjectInfo{
			Key:          key,
			Size:         size,
			ContentType:  aws.ToString(resp.ContentType),
			ETag:         aws.ToString(resp.ETag),
			LastModified: aws.ToTime(resp.LastModified),
		},
	}, nil
}

// HeadObject returns the object's size and content type.
func (b *S3Backend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	client, err := b.clients.S3(ctx, EndpointInternal)
	if err != nil {
		return nil, err
	}

	resp, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(key)
		}
		return nil, classify("head", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(resp.ContentLength),
		ContentType:  aws.ToString(resp.ContentType),
		ETag:         aws.ToString(resp.ETag),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// DeleteObject removes an object from the bucket.
// Idempotent: S3 DeleteObject does not error on missing keys, and a
// not-found from a stricter implementation is treated the same way.
func (b *S3Backend) DeleteObject(ctx context.Context, key string) error {
	client, err := b.clients.S3(ctx, EndpointInternal)
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return classify("delete", key, err)
	}
	return nil
}

// HealthCheck verifies that the bucket is reachable with the internal client.
func (b *S3Backend) HealthCheck(ctx context.Context) error {
	client, err := b.clients.S3(ctx, EndpointInternal)
	if err != nil {
		return err
	}
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	if err != nil {
		return classify("head-bucket", b.Bucket, err)
	}
	return nil
}

// PresignPut signs a PUT against the public endpoint. The signature covers
// Content-Type, and Content-Length when size >= 0, so the backend rejects a
// browser upload that deviates from what was approved.
func (b *S3Backend) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedRequest, error) {
	presigner, err := b.clients.Presigner(ctx, EndpointPublic)
	if err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.Bucket),
		Key:         aws.String(b.s3Key(key)),
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	req, err := presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, classify("presign-put", key, err)
	}
	return presignedFromV4(req.URL, req.Method, req.SignedHeader), nil
}

// PresignGet signs a GET against the internal endpoint.
func (b *S3Backend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedRequest, error) {
	presigner, err := b.clients.Presigner(ctx, EndpointInternal)
	if err != nil {
		return nil, err
	}

	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.s3Key(key)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, classify("presign-get", key, err)
	}
	return presignedFromV4(req.URL, req.Method, req.SignedHeader), nil
}

// presignedFromV4 keeps only the headers a client has to send; Host is set by
// the client's HTTP stack from the URL.
func presignedFromV4(url, method string, signed http.Header) *PresignedRequest {
	h := make(http.Header, len(signed))
	for k, v := range signed {
		if strings.EqualFold(k, "Host") {
			continue
		}
		h[k] = append([]string(nil), v...)
	}
	return &PresignedRequest{URL: url, Method: method, Header: h}
}

// contentRangeTotal extracts the complete length from a Content-Range value
// such as "bytes 0-99/1000".
func contentRangeTotal(v string) (int64, bool) {
	slash := strings.LastIndexByte(v, '/')
	if slash < 0 || !strings.HasPrefix(v, "bytes ") {
		return 0, false
	}
	total, err := strconv.ParseInt(v[slash+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

// isS3NotFound checks if an S3 error means the key is absent. A missing
// bucket is a configuration problem, not an absent object.
func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		case "NoSuchBucket":
			return false
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

// isS3InvalidRange checks if an S3 error is a 416 InvalidRange.
func isS3InvalidRange(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable
	}
	return false
}

// Ensure S3Backend implements Backend at compile time.
var _ Backend = (*S3Backend)(nil)
