package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	gwerr "github.com/mediashelf/mediashelf/internal/errors"
)

// Endpoint selects which network path a client talks to the backend over.
type Endpoint int

const (
	// EndpointInternal is the private address used for every server-side
	// read, write and delete.
	EndpointInternal Endpoint = iota
	// EndpointPublic is the browser-reachable address presigned uploads are
	// signed against. It carries no server-side traffic.
	EndpointPublic
)

func (e Endpoint) String() string {
	if e == EndpointPublic {
		return "public"
	}
	return "internal"
}

// CredentialPair is an access key id and secret.
type CredentialPair struct {
	AccessKeyID     string
	SecretAccessKey string
}

func (p CredentialPair) complete() bool {
	return p.AccessKeyID != "" && p.SecretAccessKey != ""
}

// ResolveCredentials returns explicit if both of its fields are set, else
// fallback if both of its fields are set. A half-filled pair is never used.
func ResolveCredentials(explicit, fallback CredentialPair) (CredentialPair, error) {
	if explicit.complete() {
		return explicit, nil
	}
	if fallback.complete() {
		return fallback, nil
	}
	return CredentialPair{}, gwerr.ErrConfiguration.WithMessage("no complete storage credential pair is configured")
}

// ClientConfig holds everything needed to build the backend clients.
type ClientConfig struct {
	Bucket           string
	Region           string
	InternalEndpoint string
	// PublicEndpoint defaults to InternalEndpoint when empty.
	PublicEndpoint      string
	Credentials         CredentialPair
	FallbackCredentials CredentialPair
	// ConnectTimeout bounds establishing a TCP connection to the backend.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers from the backend.
	ReadTimeout time.Duration
	// MaxAttempts is the SDK attempt budget per call. 1 disables retries.
	MaxAttempts int
}

// Validate checks the configuration without building any client.
func (c ClientConfig) Validate() error {
	if c.Bucket == "" {
		return gwerr.ErrConfiguration.WithMessage("storage bucket is not configured")
	}
	if c.InternalEndpoint == "" {
		return gwerr.ErrConfiguration.WithMessage("internal storage endpoint is not configured")
	}
	if c.Region == "" {
		return gwerr.ErrConfiguration.WithMessage("storage region is not configured")
	}
	_, err := ResolveCredentials(c.Credentials, c.FallbackCredentials)
	return err
}

func (c ClientConfig) endpointURL(ep Endpoint) string {
	if ep == EndpointPublic && c.PublicEndpoint != "" {
		return c.PublicEndpoint
	}
	return c.InternalEndpoint
}

// S3API defines the subset of the AWS S3 client interface that the S3
// backend uses. It is a superset of the upload manager's client interface.
// This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Presigner is the subset of the S3 presign client the backend uses.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ClientSource hands out S3 clients per endpoint.
type ClientSource interface {
	S3(ctx context.Context, ep Endpoint) (S3API, error)
	Presigner(ctx context.Context, ep Endpoint) (Presigner, error)
}

type lazyClient struct {
	once    sync.Once
	client  *s3.Client
	presign *s3.PresignClient
	err     error
}

// ClientFactory builds the internal and public S3 clients on first use and
// keeps them for the life of the process. Concurrent first callers block
// until the one building the client is done, then share it. A construction
// failure is remembered and returned to every later caller.
type ClientFactory struct {
	cfg     ClientConfig
	clients [2]lazyClient
}

// NewClientFactory creates a factory. No client is built until requested.
func NewClientFactory(cfg ClientConfig) *ClientFactory {
	return &ClientFactory{cfg: cfg}
}

// Internal returns the client for server-side operations.
func (f *ClientFactory) Internal(ctx context.Context) (*s3.Client, error) {
	lc := f.get(ctx, EndpointInternal)
	return lc.client, lc.err
}

// Public returns the client that signs browser-facing URLs.
func (f *ClientFactory) Public(ctx context.Context) (*s3.Client, error) {
	lc := f.get(ctx, EndpointPublic)
	return lc.client, lc.err
}

// S3 implements ClientSource.
func (f *ClientFactory) S3(ctx context.Context, ep Endpoint) (S3API, error) {
	lc := f.get(ctx, ep)
	if lc.err != nil {
		return nil, lc.err
	}
	return lc.client, nil
}

// Presigner implements ClientSource.
func (f *ClientFactory) Presigner(ctx context.Context, ep Endpoint) (Presigner, error) {
	lc := f.get(ctx, ep)
	if lc.err != nil {
		return nil, lc.err
	}
	return lc.presign, nil
}

func (f *ClientFactory) get(ctx context.Context, ep Endpoint) *lazyClient {
	lc := &f.clients[ep]
	lc.once.Do(func() {
		lc.client, lc.err = f.build(context.WithoutCancel(ctx), ep)
		if lc.err == nil {
			lc.presign = s3.NewPresignClient(lc.client)
		}
	})
	return lc
}

func (f *ClientFactory) build(ctx context.Context, ep Endpoint) (*s3.Client, error) {
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}
	creds, _ := ResolveCredentials(f.cfg.Credentials, f.cfg.FallbackCredentials)

	maxAttempts := f.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	httpClient := awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			if f.cfg.ConnectTimeout > 0 {
				d.Timeout = f.cfg.ConnectTimeout
			}
		}).
		WithTransportOptions(func(t *http.Transport) {
			if f.cfg.ReadTimeout > 0 {
				t.ResponseHeaderTimeout = f.cfg.ReadTimeout
			}
		})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(f.cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRetryMaxAttempts(maxAttempts),
	)
	if err != nil {
		return nil, gwerr.ErrConfiguration.WithMessage("loading AWS config: %v", err).Wrap(err)
	}

	endpoint := f.cfg.endpointURL(ep)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	slog.Info("Storage client initialized",
		"endpoint", ep.String(),
		"url", endpoint,
		"bucket", f.cfg.Bucket,
		"region", f.cfg.Region,
	)
	return client, nil
}

// staticClients serves fixed clients. Used when the caller already holds a
// client, e.g. in tests.
type staticClients struct {
	client    S3API
	presigner Presigner
}

func (s staticClients) S3(ctx context.Context, ep Endpoint) (S3API, error) {
	if s.client == nil {
		return nil, gwerr.ErrConfiguration.WithMessage("no %s storage client configured", ep)
	}
	return s.client, nil
}

func (s staticClients) Presigner(ctx context.Context, ep Endpoint) (Presigner, error) {
	if s.presigner == nil {
		return nil, gwerr.ErrPresignUnsupported.WithMessage("no %s presign client configured", ep)
	}
	return s.presigner, nil
}

var (
	_ ClientSource = (*ClientFactory)(nil)
	_ ClientSource = staticClients{}
)

// String describes the factory for logs.
func (f *ClientFactory) String() string {
	return fmt.Sprintf("s3(bucket=%s, internal=%s, public=%s)",
		f.cfg.Bucket, f.cfg.endpointURL(EndpointInternal), f.cfg.endpointURL(EndpointPublic))
}
