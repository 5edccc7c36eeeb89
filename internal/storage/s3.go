package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/iliyamo/filevault/internal/config"
)

// S3Adapter stores objects in AWS S3 or an S3-compatible service.
type S3Adapter struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	sse     bool
}

// NewS3Adapter creates the client. Static keys are used when configured,
// otherwise the default AWS credential chain applies. With a custom
// endpoint path-style addressing is enabled; a public endpoint, if set,
// is the host presigned URLs are signed for.
func NewS3Adapter(ctx context.Context, cfg config.StorageConfig) (*S3Adapter, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	withEndpoint := func(endpoint string) func(*s3.Options) {
		return func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		}
	}
	client := s3.NewFromConfig(awsCfg, withEndpoint(cfg.S3Endpoint))

	signer := client
	if cfg.S3PublicEndpoint != "" {
		signer = s3.NewFromConfig(awsCfg, withEndpoint(cfg.S3PublicEndpoint))
	}

	return &S3Adapter{
		client:  client,
		presign: s3.NewPresignClient(signer),
		bucket:  cfg.Bucket,
		sse:     cfg.S3ServerSideCrypt,
	}, nil
}

func (a *S3Adapter) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	if path == "" || r == nil {
		return "", fmt.Errorf("%w: empty path or reader", ErrInvalidArgument)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(path),
		Body:        r,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if a.sse {
		in.ServerSideEncryption = types.ServerSideEncryptionAes256
	}
	if _, err := a.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	return path, nil
}

func (a *S3Adapter) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (a *S3Adapter) Presign(ctx context.Context, path string, ttl time.Duration, method, filename string) (string, error) {
	if err := checkArgs(path, method); err != nil {
		return "", err
	}
	expires := s3.WithPresignExpires(ttl)

	if method == http.MethodPut {
		req, err := a.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(path),
		}, expires)
		if err != nil {
			return "", fmt.Errorf("failed to generate presigned URL: %w", err)
		}
		return req.URL, nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	}
	if filename != "" {
		in.ResponseContentDisposition = aws.String(ContentDisposition(filename))
	}
	req, err := a.presign.PresignGetObject(ctx, in, expires)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}
