// Package archive - archive store adapter for LAUNCHPAD.
//
// Uploaded source archives live at uploads/{deployment_id}/source.zip in
// the archive bucket. Before a build the archive is mirrored to
// {deployment_id}/source.zip in the build executor's source bucket, which
// is the only location the executor reads from.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxArchiveSize bounds the compressed size accepted from clients.
const MaxArchiveSize = 50 << 20 // 50 MiB

var ErrArchiveTooLarge = errors.New("archive exceeds the 50 MiB limit")

// api is the slice of the S3 surface the store uses; tests stub it.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store mediates all archive object access.
type Store struct {
	client        api
	uploader      *manager.Uploader
	archiveBucket string
	sourceBucket  string
}

// NewStore builds an archive store over ambient AWS credentials.
func NewStore(ctx context.Context, region, archiveBucket, sourceBucket string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Store{
		client:        client,
		uploader:      manager.NewUploader(client),
		archiveBucket: archiveBucket,
		sourceBucket:  sourceBucket,
	}, nil
}

// NewStoreWithClient wires an explicit client; used by tests.
func NewStoreWithClient(client api, archiveBucket, sourceBucket string) *Store {
	return &Store{client: client, archiveBucket: archiveBucket, sourceBucket: sourceBucket}
}

func uploadKey(deploymentID string) string { return "uploads/" + deploymentID + "/source.zip" }
func sourceKey(deploymentID string) string { return deploymentID + "/source.zip" }

// Put accepts archive bytes relayed through the control plane. Size is
// enforced before any bytes hit the store.
func (s *Store) Put(ctx context.Context, deploymentID string, body io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxArchiveSize+1))
	if err != nil {
		return fmt.Errorf("read archive body: %w", err)
	}
	if len(data) > MaxArchiveSize {
		return ErrArchiveTooLarge
	}

	if s.uploader != nil {
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.archiveBucket),
			Key:         aws.String(uploadKey(deploymentID)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/zip"),
		})
	} else {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.archiveBucket),
			Key:         aws.String(uploadKey(deploymentID)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/zip"),
		})
	}
	if err != nil {
		return fmt.Errorf("store archive for %s: %w", deploymentID, err)
	}
	return nil
}

// Get fetches the uploaded archive for analysis, bounded by MaxArchiveSize.
func (s *Store) Get(ctx context.Context, deploymentID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.archiveBucket),
		Key:    aws.String(uploadKey(deploymentID)),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch archive for %s: %w", deploymentID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, MaxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("read archive for %s: %w", deploymentID, err)
	}
	if len(data) > MaxArchiveSize {
		return nil, ErrArchiveTooLarge
	}
	return data, nil
}

// Exists reports whether an archive has been uploaded for the deployment.
func (s *Store) Exists(ctx context.Context, deploymentID string) bool {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.archiveBucket),
		Key:    aws.String(uploadKey(deploymentID)),
		Range:  aws.String("bytes=0-0"),
	})
	if err != nil {
		return false
	}
	out.Body.Close()
	return true
}

// Mirror copies the uploaded archive to the build executor's source bucket.
func (s *Store) Mirror(ctx context.Context, deploymentID string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.sourceBucket),
		Key:        aws.String(sourceKey(deploymentID)),
		CopySource: aws.String(s.archiveBucket + "/" + uploadKey(deploymentID)),
	})
	if err != nil {
		return fmt.Errorf("mirror archive for %s: %w", deploymentID, err)
	}
	return nil
}

// Delete removes the archive and its mirrored copy. Missing objects are
// not errors; deletion is best-effort and idempotent.
func (s *Store) Delete(ctx context.Context, deploymentID string) error {
	var firstErr error
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.archiveBucket),
		Key:    aws.String(uploadKey(deploymentID)),
	}); err != nil {
		firstErr = fmt.Errorf("delete archive for %s: %w", deploymentID, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.sourceBucket),
		Key:    aws.String(sourceKey(deploymentID)),
	}); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("delete mirrored archive for %s: %w", deploymentID, err)
	}
	return firstErr
}

// Health probes the archive bucket.
func (s *Store) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.archiveBucket)})
	if err != nil {
		return fmt.Errorf("archive bucket probe failed: %w", err)
	}
	return nil
}
