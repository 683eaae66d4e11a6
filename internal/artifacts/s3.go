package artifacts

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Client uploads archives to an S3-compatible bucket (AWS, R2, MinIO).
type S3Client struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Client creates a client for the given endpoint and bucket using
// static credentials. An empty endpoint uses plain AWS addressing.
func NewS3Client(endpoint, accessKey, secretKey, bucket string, log zerolog.Logger) (*S3Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client: client,
		bucket: bucket,
		log:    log.With().Str("client", "s3").Logger(),
	}, nil
}

// Upload streams body to the bucket under key. The upload manager handles
// multipart transfers for large archives.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader) error {
	uploader := manager.NewUploader(c.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	c.log.Info().Str("key", key).Msg("Uploaded archive")
	return nil
}

// StoredObject is one archived object in the bucket.
type StoredObject struct {
	Key       string
	SizeBytes int64
}

// List returns every object in the bucket whose key starts with prefix.
func (c *S3Client) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	var out []StoredObject
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			o := StoredObject{}
			if obj.Key != nil {
				o.Key = *obj.Key
			}
			if obj.Size != nil {
				o.SizeBytes = *obj.Size
			}
			out = append(out, o)
		}
	}
	return out, nil
}

// Delete removes one object from the bucket.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
