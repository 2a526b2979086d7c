// Package archive keeps a copy of every submitted batch body in S3.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/blnkfinance/collect/config"
	"github.com/sirupsen/logrus"
)

var ErrNotConfigured = errors.New("batch archive bucket is not configured")

type S3Archive struct {
	client s3iface.S3API
	bucket string
}

// New builds an archive from configuration. Static credentials are used when
// given, otherwise the SDK's default chain applies. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func New(cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.S3BucketName == "" {
		return nil, ErrNotConfigured
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.S3Region)}
	if cfg.AwsAccessKeyId != "" && cfg.AwsSecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AwsAccessKeyId, cfg.AwsSecretAccessKey, "")
	}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewWithClient(s3.New(sess), cfg.S3BucketName), nil
}

func NewWithClient(client s3iface.S3API, bucket string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket}
}

// Key is the object key a batch body is stored under.
func Key(batchName string, actionDate time.Time) string {
	return fmt.Sprintf("batches/%s/%s.txt", actionDate.Format("2006/01"), batchName)
}

// Store uploads the body and returns its object key.
func (a *S3Archive) Store(ctx context.Context, batchName string, actionDate time.Time, body []byte) (string, error) {
	key := Key(batchName, actionDate)
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata: map[string]*string{
			"batch-name": aws.String(batchName),
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", batchName, err)
	}
	logrus.WithFields(logrus.Fields{"batch_name": batchName, "bucket": a.bucket, "key": key}).Info("batch body archived")
	return key, nil
}
