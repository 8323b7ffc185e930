package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	appconfig "shadowrealms_backend/pkg/config"
	"shadowrealms_backend/pkg/oops"
)

// Uploader writes subscriber snapshots to a Cloudflare R2 bucket.
type Uploader struct {
	client *s3.Client
	bucket string
}

func NewUploader(ctx context.Context, cfg appconfig.BackupConfig) (*Uploader, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, oops.New(err, "unable to load SDK config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
		o.UsePathStyle = true
		o.Region = "auto"
	})

	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

// SnapshotKey builds a unique, URL-safe object key such as
// backups/shadow-realms/2024/03/09/20240309T033000Z-<uuid>.csv.
func SnapshotKey(game string, at time.Time, ext string) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s%s", at.Format("20060102T150405Z"), uuid.New().String(), ext)
	return path.Join("backups", slug.Make(game), at.Format("2006/01/02"), name)
}

func (u *Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return oops.New(err, "could not upload %s to R2", key)
	}
	return nil
}
