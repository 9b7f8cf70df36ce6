package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const partSize = 16 * 1024 * 1024

func ParseS3URL(url string) (string, string, error) {
	if !strings.HasPrefix(url, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URL format: %s", url)
	}
	url = strings.TrimPrefix(url, "s3://")
	parts := strings.SplitN(url, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL format")
	}
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}

// ObjectKey completes a destination key that names a folder with the local
// file name.
func ObjectKey(key, localPath string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key + filepath.Base(localPath)
	}
	return key
}

func newS3Client(ctx context.Context, profile string) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRetryMode("adaptive")}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Upload publishes localPath to an s3://bucket/key destination.
func Upload(ctx context.Context, profile, localPath, destination string) error {
	bucket, key, err := ParseS3URL(destination)
	if err != nil {
		return err
	}
	key = ObjectKey(key, localPath)
	client, err := newS3Client(ctx, profile)
	if err != nil {
		return err
	}
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("error opening file: %v", err)
	}
	defer file.Close()

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 4
	})
	log.Info().Str("op", "s3/upload").Msgf("Uploading %s to s3://%s/%s", localPath, bucket, key)
	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return fmt.Errorf("error uploading to S3: %v", err)
	}
	log.Info().Str("op", "s3/upload").Msgf("Uploaded to %s", out.Location)
	return nil
}
