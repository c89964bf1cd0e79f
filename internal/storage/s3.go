package storage

import (
	"context"
	"time"

	"alcyxob/filemanager/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config" // Alias config to avoid clash
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// s3Storage implements FileStorage on an S3-compatible backend (AWS, R2, MinIO).
type s3Storage struct {
	client        *s3.Client        // Regular client for DeleteObject
	presignClient *s3.PresignClient // Generates presigned URLs
	bucketName    string
	keyPrefix     string
	now           func() time.Time
	log           *logrus.Entry
}

// NewS3Storage creates a new S3 storage service instance.
func NewS3Storage(cfg config.S3Config) (FileStorage, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsSDKConfig, err := awsCfg.LoadDefaultConfig(context.TODO(),
		awsCfg.WithRegion(region),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		logrus.WithError(err).Error("failed to load AWS SDK config for S3")
		return nil, err
	}

	// Path-style addressing is required by most S3-compatible services.
	s3Client := s3.NewFromConfig(awsSDKConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	logrus.WithFields(logrus.Fields{
		"endpoint": cfg.Endpoint,
		"bucket":   cfg.BucketName,
	}).Info("S3 storage initialized")

	return &s3Storage{
		client:        s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    cfg.BucketName,
		keyPrefix:     cfg.KeyPrefix,
		now:           time.Now,
		log:           logrus.WithField("component", "storage.s3"),
	}, nil
}

// IssueUploadGrant creates a temporary URL for uploading (PUT) a new object.
func (s *s3Storage) IssueUploadGrant(ctx context.Context, originalName string, expires time.Duration) (*UploadGrant, error) {
	if expires <= 0 {
		expires = DefaultUploadExpiry
	}
	objectKey := ObjectKeyFor(s.keyPrefix, originalName, s.now())

	presignParams := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(objectKey),
		ContentType: aws.String(ContentTypeFor(originalName)), // Client MUST send the same header on upload
	}

	req, err := s.presignClient.PresignPutObject(ctx, presignParams, s3.WithPresignExpires(expires))
	if err != nil {
		s.log.WithError(err).WithField("key", objectKey).Error("failed to presign PUT")
		return nil, err
	}

	return &UploadGrant{ObjectKey: objectKey, UploadURL: req.URL}, nil
}

// IssueDownloadURL creates a temporary URL for downloading (GET).
func (s *s3Storage) IssueDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if objectKey == "" {
		return "", nil
	}
	if expires <= 0 {
		expires = DefaultDownloadExpiry
	}

	presignParams := &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	}

	req, err := s.presignClient.PresignGetObject(ctx, presignParams, s3.WithPresignExpires(expires))
	if err != nil {
		s.log.WithError(err).WithField("key", objectKey).Error("failed to presign GET")
		return "", err
	}

	return req.URL, nil
}

// DeleteObject removes an object from the bucket.
func (s *s3Storage) DeleteObject(ctx context.Context, objectKey string) error {
	if objectKey == "" {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"key": objectKey, "bucket": s.bucketName}).Error("failed to delete object")
		return err
	}

	s.log.WithFields(logrus.Fields{"key": objectKey, "bucket": s.bucketName}).Info("deleted object")
	return nil
}
