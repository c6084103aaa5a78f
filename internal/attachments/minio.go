// Package attachments uploads message attachments to S3-compatible storage
// before the message referencing them is sent.
package attachments

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"workhub/collab/internal/store"
	"workhub/collab/internal/util"
)

const defaultURLExpiry = 24 * time.Hour

// Upload is one file to attach to a message.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, spaceID string, file Upload) (store.Attachment, error)
}

type MinioUploader struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

func NewMinio(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioUploader{client: client, bucket: bucket, urlExpiry: defaultURLExpiry}, nil
}

// EnsureBucket creates the attachment bucket if it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, spaceID string, file Upload) (store.Attachment, error) {
	id := util.NewID("att")
	key := ObjectKey(spaceID, id, file.Name)
	contentType := ContentType(file.Name, file.ContentType)

	size := file.Size
	if size <= 0 {
		size = -1
	}
	info, err := u.client.PutObject(ctx, u.bucket, key, file.Body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("upload %s: %w", file.Name, err)
	}

	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.urlExpiry, nil)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("presign %s: %w", key, err)
	}

	return store.Attachment{
		ID:          id,
		Name:        displayName(file.Name),
		ContentType: contentType,
		Size:        info.Size,
		Key:         key,
		URL:         presigned.String(),
	}, nil
}

// Ping checks the storage endpoint answers for the configured bucket.
func (u *MinioUploader) Ping(ctx context.Context) error {
	_, err := u.client.BucketExists(ctx, u.bucket)
	return err
}

// ObjectKey builds the storage key for an attachment: one prefix per space,
// one per attachment id, then a cleaned file name.
func ObjectKey(spaceID, attachmentID, name string) string {
	return path.Join("spaces", cleanSegment(spaceID), attachmentID, cleanSegment(displayName(name)))
}

// ContentType prefers the declared type and falls back to the file extension.
func ContentType(name, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

func displayName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

func cleanSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}
