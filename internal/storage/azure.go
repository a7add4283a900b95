package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the Azure backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadStream streams body into a block blob. Blocks are committed only
	// after body is fully read, so a failing body leaves no blob behind.
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, contentType string, blockSize int64, concurrency int) error
	// DownloadStream reads count bytes from offset. count 0 reads to the end.
	DownloadStream(ctx context.Context, containerName, blobName string, offset, count int64) (*AzureDownload, error)
	// GetProperties returns the blob's properties.
	GetProperties(ctx context.Context, containerName, blobName string) (*AzureBlobProperties, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// ContainerProperties checks that the container is reachable.
	ContainerProperties(ctx context.Context, containerName string) error
	// SASURL signs a blob URL with the given permissions.
	SASURL(containerName, blobName string, perms sas.BlobPermissions, expiry time.Time) (string, error)
}

// AzureDownload is an open blob body.
type AzureDownload struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string
	ContentType   string
	ETag          string
}

// AzureBlobProperties holds the blob properties the backend needs.
type AzureBlobProperties struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
}

// AzureOptions selects how the Azure client authenticates. The first
// non-empty option wins: connection string, account key, managed identity,
// then DefaultAzureCredential. Only the first two can sign SAS URLs.
type AzureOptions struct {
	AccountURL         string
	ConnectionString   string
	AccountName        string
	AccountKey         string
	UseManagedIdentity bool
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration
	// ResponseTimeout bounds the wait for response headers on every try.
	ResponseTimeout time.Duration
	// MaxAttempts is the attempt budget per call. Zero keeps the SDK default
	// of four.
	MaxAttempts int
}

// clientOptions builds the pipeline options shared by every constructor.
// Retry.TryTimeout is left unset: the SDK applies it to the body read too,
// which would cut off long media downloads.
func (o AzureOptions) clientOptions() *azblob.ClientOptions {
	co := &azblob.ClientOptions{ClientOptions: policy.ClientOptions{
		Transport: &http.Client{Transport: newTimedTransport(o.ConnectTimeout, o.ResponseTimeout)},
	}}
	if o.MaxAttempts > 0 {
		// Negative MaxRetries means a single try.
		co.Retry.MaxRetries = int32(o.MaxAttempts - 1)
		if co.Retry.MaxRetries == 0 {
			co.Retry.MaxRetries = -1
		}
	}
	return co
}

func newRealAzureClient(opts AzureOptions) (*realAzureClient, error) {
	copts := opts.clientOptions()
	if opts.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(opts.ConnectionString, copts)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	if opts.AccountURL == "" {
		return nil, errors.New("azure account URL is not configured")
	}

	if opts.AccountName != "" && opts.AccountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("creating Azure shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(opts.AccountURL, cred, copts)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with shared key: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	var cred azcore.TokenCredential
	var err error
	if opts.UseManagedIdentity {
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}

	client, err := azblob.NewClient(opts.AccountURL, cred, copts)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, contentType string, blockSize int64, concurrency int) error {
	_, err := c.client.UploadStream(ctx, containerName, blobName, body, &azblob.UploadStreamOptions{
		BlockSize:   blockSize,
		Concurrency: concurrency,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return err
}

func (c *realAzureClient) DownloadStream(ctx context.Context, containerName, blobName string, offset, count int64) (*AzureDownload, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, blobName, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: count},
	})
	if err != nil {
		return nil, err
	}
	d := &AzureDownload{Body: resp.Body}
	if resp.ContentLength != nil {
		d.ContentLength = *resp.ContentLength
	}
	if resp.ContentRange != nil {
		d.ContentRange = *resp.ContentRange
	}
	if resp.ContentType != nil {
		d.ContentType = *resp.ContentType
	}
	if resp.ETag != nil {
		d.ETag = string(*resp.ETag)
	}
	return d, nil
}

func (c *realAzureClient) GetProperties(ctx context.Context, containerName, blobName string) (*AzureBlobProperties, error) {
	resp, err := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	p := &AzureBlobProperties{}
	if resp.ContentLength != nil {
		p.Size = *resp.ContentLength
	}
	if resp.ContentType != nil {
		p.ContentType = *resp.ContentType
	}
	if resp.ETag != nil {
		p.ETag = string(*resp.ETag)
	}
	if resp.LastModified != nil {
		p.LastModified = *resp.LastModified
	}
	return p, nil
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzureClient) ContainerProperties(ctx context.Context, containerName string) error {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).GetProperties(ctx, nil)
	return err
}

func (c *realAzureClient) SASURL(containerName, blobName string, perms sas.BlobPermissions, expiry time.Time) (string, error) {
	return c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetSASURL(perms, expiry, nil)
}

// AzureBackend stores objects in an Azure Blob Storage container. Azure has
// a single endpoint, so SAS URLs for uploads and downloads sign against it.
type AzureBackend struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// Prefix is prepended to every blob name in the upstream container.
	Prefix string
	// BlockSize is the staged block size. Upload memory is bounded by
	// BlockSize * Concurrency.
	BlockSize int64
	// Concurrency is the number of blocks staged in parallel.
	Concurrency int
	// ReadTimeout cancels a read whose body stalls for this long.
	ReadTimeout time.Duration

	client AzureBlobAPI
}

// NewAzureBackend creates an AzureBackend. No request is made until first use.
func NewAzureBackend(container, prefix string, opts AzureOptions) (*AzureBackend, error) {
	if container == "" {
		return nil, gwerr.ErrConfiguration.WithMessage("azure container is not configured")
	}
	client, err := newRealAzureClient(opts)
	if err != nil {
		return nil, gwerr.ErrConfiguration.WithMessage("creating Azure client: %v", err).Wrap(err)
	}
	slog.Info("Azure backend initialized", "container", container, "account", opts.AccountURL, "prefix", prefix)
	return NewAzureBackendWithClient(container, prefix, client), nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(container, prefix string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container:   container,
		Prefix:      prefix,
		BlockSize:   4 << 20,
		Concurrency: 4,
		client:      client,
	}
}

// Name implements ObjectStore.
func (b *AzureBackend) Name() string { return "azure" }

func (b *AzureBackend) blobName(key string) string {
	return b.Prefix + key
}

// PutObject streams body into a block blob.
func (b *AzureBackend) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error) {
	cr := &countingReader{r: body}
	if err := b.client.UploadStream(ctx, b.Container, b.blobName(key), cr, contentType, b.BlockSize, b.Concurrency); err != nil {
		return cr.n, classify("put", key, err)
	}
	return cr.n, nil
}

// GetObject reads the blob, or the span rng when it is non-nil.
func (b *AzureBackend) GetObject(ctx context.Context, key string, rng *ByteRange) (*ObjectReader, error) {
	var offset, count int64
	if rng != nil {
		offset, count = rng.Start, rng.Length()
	}

	ctx, cancel := context.WithCancel(ctx)
	d, err := b.client.DownloadStream(ctx, b.Container, b.blobName(key), offset, count)
	if err != nil {
		cancel()
		switch {
		case isAzureNotFound(err):
			return nil, notFound(key)
		case rng != nil && bloberror.HasCode(err, bloberror.InvalidRange):
			return nil, gwerr.ErrRangeNotSatisfiable.WithMessage("range %s is outside %s", rng.HeaderValue(), key)
		}
		return nil, classify("get", key, err)
	}

	size := d.ContentLength
	if rng != nil {
		total, ok := contentRangeTotal(d.ContentRange)
		if !ok {
			d.Body.Close()
			cancel()
			return nil, gwerr.ErrStorageUnavailable.WithMessage(
				"get %s: backend answered a ranged read without a usable Content-Range (%q)", key, d.ContentRange)
		}
		size = total
	}

	return &ObjectReader{
		Body:   newIdleTimeoutBody(d.Body, b.ReadTimeout, cancel),
		Length: d.ContentLength,
		Info: ObjectInfo{
			Key:         key,
			Size:        size,
			ContentType: d.ContentType,
			ETag:        d.ETag,
		},
	}, nil
}

// HeadObject returns the blob's size and content type.
func (b *AzureBackend) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	p, err := b.client.GetProperties(ctx, b.Container, b.blobName(key))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, notFound(key)
		}
		return nil, classify("head", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         p.Size,
		ContentType:  p.ContentType,
		ETag:         p.ETag,
		LastModified: p.LastModified,
	}, nil
}

// DeleteObject removes a blob.
// Idempotent: catches BlobNotFound silently.
func (b *AzureBackend) DeleteObject(ctx context.Context, key string) error {
	err := b.client.DeleteBlob(ctx, b.Container, b.blobName(key))
	if err != nil && !isAzureNotFound(err) {
		return classify("delete", key, err)
	}
	return nil
}

// HealthCheck verifies that the upstream container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	if err := b.client.ContainerProperties(ctx, b.Container); err != nil {
		return classify("container-properties", b.Container, err)
	}
	return nil
}

// PresignPut signs a SAS URL allowing the blob to be created. Azure cannot
// bind Content-Type or length into a SAS, so the returned headers are what
// the client must send.
func (b *AzureBackend) PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (*PresignedRequest, error) {
	u, err := b.client.SASURL(b.Container, b.blobName(key), sas.BlobPermissions{Create: true, Write: true}, time.Now().Add(ttl))
	if err != nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("signing Azure upload for %s: %v", key, err).Wrap(err)
	}
	return &PresignedRequest{
		URL:    u,
		Method: http.MethodPut,
		Header: http.Header{
			"Content-Type":   {contentType},
			"X-Ms-Blob-Type": {"BlockBlob"},
		},
	}, nil
}

// PresignGet signs a read-only SAS URL.
func (b *AzureBackend) PresignGet(ctx context.Context, key string, ttl time.Duration) (*PresignedRequest, error) {
	u, err := b.client.SASURL(b.Container, b.blobName(key), sas.BlobPermissions{Read: true}, time.Now().Add(ttl))
	if err != nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("signing Azure download for %s: %v", key, err).Wrap(err)
	}
	return &PresignedRequest{URL: u, Method: http.MethodGet, Header: http.Header{}}, nil
}

// isAzureNotFound checks if an Azure error means the blob is absent. A
// missing container is a configuration problem, not an absent blob.
func isAzureNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

// Ensure AzureBackend implements Backend at compile time.
var _ Backend = (*AzureBackend)(nil)
