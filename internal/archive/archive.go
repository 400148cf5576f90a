// Package archive mirrors encrypted visit documents to object storage. The
// bytes sent are the ciphertext already held in the database; nothing is
// decrypted on the way out.
package archive

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Object is one encrypted document to mirror.
type Object struct {
	VisitID    string
	DocumentID string
	MimeType   string
	Ciphertext []byte
	IV         []byte
}

// Archiver copies documents somewhere durable and drops the copy when the
// visit goes away.
type Archiver interface {
	Archive(ctx context.Context, obj Object) error
	Remove(ctx context.Context, visitID string) error
}

// Nop discards everything. Used when no bucket is configured.
type Nop struct{}

// Archive implements Archiver.
func (Nop) Archive(context.Context, Object) error { return nil }

// Remove implements Archiver.
func (Nop) Remove(context.Context, string) error { return nil }

// S3API is the part of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Archiver writes one private object per visit.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archiver creates an S3Archiver.
func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key used for a visit.
func (a *S3Archiver) Key(visitID string) string {
	return path.Join(a.prefix, visitID+".bin")
}

// Archive implements Archiver. The write is conditional so an existing
// object is never replaced.
func (a *S3Archiver) Archive(ctx context.Context, obj Object) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(obj.VisitID)),
		Body:        bytes.NewReader(obj.Ciphertext),
		ContentType: aws.String("application/octet-stream"),
		ACL:         types.ObjectCannedACLPrivate,
		IfNoneMatch: aws.String("*"),
		Metadata: map[string]string{
			"document-id": obj.DocumentID,
			"mime-type":   obj.MimeType,
			"iv":          hex.EncodeToString(obj.IV),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, a.Key(obj.VisitID), err)
	}
	return nil
}

// Remove implements Archiver. Deleting a key that was never written is not
// an error on S3.
func (a *S3Archiver) Remove(ctx context.Context, visitID string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(visitID)),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", a.bucket, a.Key(visitID), err)
	}
	return nil
}
