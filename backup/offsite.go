package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const mirrorTimeout = 5 * time.Minute

// Mirror copies backup archives to an S3-compatible bucket. Mirroring is
// best-effort: a bucket outage never fails the local backup.
type Mirror struct {
	client *s3.Client
	bucket string
	log    *slog.Logger
}

// MirrorConfig holds the offsite bucket settings. Endpoint is optional and
// enables S3-compatible services (MinIO, OVH, DigitalOcean Spaces).
type MirrorConfig struct {
	Bucket   string
	Region   string
	Endpoint string
}

// NewMirror builds an offsite mirror for the bucket.
func NewMirror(ctx context.Context, cfg MirrorConfig, logger *slog.Logger) (*Mirror, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing for S3-compatible services.
			o.UsePathStyle = true
		})
	}

	return &Mirror{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		log:    logger,
	}, nil
}

// mirrorUpload pushes the archive to the bucket in the background. A nil
// mirror publishes nothing.
func (e *Engine) mirrorUpload(serverID, filename, path string) {
	if e.mirror == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := e.mirror.upload(ctx, serverID+"/"+filename, path); err != nil {
			e.log.Error("offsite mirror upload failed", "filename", filename, "error", err)
		}
	}()
}

// mirrorDelete removes the archive from the bucket in the background.
func (e *Engine) mirrorDelete(serverID, filename string) {
	if e.mirror == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := e.mirror.delete(ctx, serverID+"/"+filename); err != nil {
			e.log.Error("offsite mirror delete failed", "filename", filename, "error", err)
		}
	}()
}

func (m *Mirror) upload(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (m *Mirror) delete(ctx context.Context, key string) error {
	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}
