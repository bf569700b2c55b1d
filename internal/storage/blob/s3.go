package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/watershedlabs/leaksense/pkg/apperrors"
)

// S3 stores .inp files as objects under a fixed bucket, keyed by
// "<networkID>.inp", for deployments that prefer object storage over the
// local filesystem layout.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 loads credentials from the default AWS chain (environment,
// shared config, IMDS) and returns an S3-backed Store for bucket.
func NewS3(ctx context.Context, bucket, region string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3) key(networkID string) string {
	return networkID + ".inp"
}

// Put uploads data to s3://<bucket>/<networkID>.inp.
func (s *S3) Put(ctx context.Context, networkID string, data []byte) (string, error) {
	key := s.key(networkID)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get downloads the object for networkID.
func (s *S3) Get(ctx context.Context, networkID string) ([]byte, error) {
	key := s.key(networkID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, apperrors.NotFound("S3.Get", "inp_file", networkID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", key, err)
	}
	return data, nil
}

// Delete removes the object for networkID, ignoring a missing object.
func (s *S3) Delete(ctx context.Context, networkID string) error {
	key := s.key(networkID)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
