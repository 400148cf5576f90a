package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input   *s3.PutObjectInput
	body    []byte
	deleted []string
	err     error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3ArchiverPutsPrivateObject(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "clinic-docs", "documents/")

	err := a.Archive(context.Background(), Object{
		VisitID:    "visit-9",
		DocumentID: "doc-1",
		MimeType:   "application/pdf",
		Ciphertext: []byte{1, 2, 3},
		IV:         []byte{0xab, 0xcd},
	})
	require.NoError(t, err)

	in := client.input
	assert.Equal(t, "clinic-docs", *in.Bucket)
	assert.Equal(t, "documents/visit-9.bin", *in.Key)
	assert.Equal(t, types.ObjectCannedACLPrivate, in.ACL)
	assert.Equal(t, "*", *in.IfNoneMatch)
	assert.Equal(t, "abcd", in.Metadata["iv"])
	assert.Equal(t, "application/pdf", in.Metadata["mime-type"])
	assert.Equal(t, []byte{1, 2, 3}, client.body)
}

func TestS3ArchiverWrapsError(t *testing.T) {
	boom := errors.New("access denied")
	a := NewS3Archiver(&fakeS3{err: boom}, "b", "")
	err := a.Archive(context.Background(), Object{VisitID: "v"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s3://b/v.bin")
}

func TestS3ArchiverRemovesObject(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "clinic-docs", "documents")

	require.NoError(t, a.Remove(context.Background(), "visit-9"))
	assert.Equal(t, []string{"clinic-docs/documents/visit-9.bin"}, client.deleted)

	boom := errors.New("access denied")
	err := NewS3Archiver(&fakeS3{err: boom}, "b", "").Remove(context.Background(), "v")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s3://b/v.bin")
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Archive(context.Background(), Object{}))
	assert.NoError(t, Nop{}.Remove(context.Background(), "v"))
}
