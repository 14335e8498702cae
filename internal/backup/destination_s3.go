package backup

import (
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
)

// S3Destination replicates backups into an S3 or S3-compatible bucket.
type S3Destination struct {
	cfg      config.DestinationConfig
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a destination for the configured bucket.
func NewS3Destination(cfg config.DestinationConfig) (*S3Destination, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		),
	}

	// Custom endpoint covers MinIO and other S3-compatible stores.
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	logging.L().Info("s3 destination initialized", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
	return &S3Destination{
		cfg:      cfg,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (d *S3Destination) Type() string { return "s3" }

func (d *S3Destination) key(name string) string {
	return path.Join(d.cfg.Path, name)
}

func (d *S3Destination) Upload(name string, reader io.Reader, sizeBytes int64) error {
	key := d.key(name)
	_, err := d.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(d.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", d.cfg.S3Bucket, key, err)
	}
	logging.L().Debug("s3 upload complete", "key", key, "size", sizeBytes)
	return nil
}

func (d *S3Destination) Download(name string, writer io.Writer) error {
	key := d.key(name)
	result, err := d.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(d.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", d.cfg.S3Bucket, key, err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read s3://%s/%s: %w", d.cfg.S3Bucket, key, err)
	}
	return nil
}

func (d *S3Destination) Delete(name string) error {
	key := d.key(name)
	_, err := d.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", d.cfg.S3Bucket, key, err)
	}
	return nil
}

func (d *S3Destination) List() ([]File, error) {
	prefix := d.cfg.Path
	if prefix != "" {
		prefix += "/"
	}

	var files []File
	err := d.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(d.cfg.S3Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			name := aws.StringValue(obj.Key)
			if name == prefix {
				continue
			}
			file := File{
				Name:      path.Base(name),
				SizeBytes: aws.Int64Value(obj.Size),
			}
			if obj.LastModified != nil {
				file.ModTime = *obj.LastModified
			}
			files = append(files, file)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3://%s: %w", d.cfg.S3Bucket, err)
	}
	return files, nil
}

func (d *S3Destination) Close() error { return nil }
