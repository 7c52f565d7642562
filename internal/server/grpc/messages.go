package grpc

import (
	"time"

	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
)

type Empty struct{}

type Bucket struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	OwnerEmail      string     `json:"owner_email,omitempty"`
	Collaborators   []string   `json:"collaborators,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	Active          bool       `json:"active"`
	FileCount       int64      `json:"file_count"`
	ByteSize        int64      `json:"byte_size"`
	Color           string     `json:"color,omitempty"`
	Icon            string     `json:"icon,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	RestoreDeadline *time.Time `json:"restore_deadline,omitempty"`
}

type File struct {
	ID             string     `json:"id"`
	BucketID       string     `json:"bucket_id"`
	Name           string     `json:"name"`
	Size           int64      `json:"size"`
	ContentType    string     `json:"content_type,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Downloads      int64      `json:"downloads"`
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`
	URL            string     `json:"url,omitempty"`
}

type CreateBucketRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Collaborators []string `json:"collaborators"`
	Color         string   `json:"color"`
	Icon          string   `json:"icon"`
}

// CreateBucketResponse is the only response that carries a fresh PIN.
type CreateBucketResponse struct {
	Bucket *Bucket `json:"bucket"`
	Pin    string  `json:"pin"`
}

type BucketRequest struct {
	BucketID string `json:"bucket_id"`
}

type BucketResponse struct {
	Bucket *Bucket `json:"bucket"`
}

type ListBucketsResponse struct {
	Buckets []*Bucket `json:"buckets"`
}

// UpdateBucketRequest leaves absent fields untouched.
type UpdateBucketRequest struct {
	BucketID      string    `json:"bucket_id"`
	Name          *string   `json:"name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Collaborators *[]string `json:"collaborators,omitempty"`
	Color         *string   `json:"color,omitempty"`
	Icon          *string   `json:"icon,omitempty"`
}

type RevealPinResponse struct {
	Pin string `json:"pin"`
}

type ResolvePinRequest struct {
	Pin string `json:"pin"`
}

// FileAccess names the bucket a file call works on. Pin is required unless
// the call carries the owner's access token.
type FileAccess struct {
	BucketID string `json:"bucket_id"`
	Pin      string `json:"pin,omitempty"`
}

type ListFilesRequest struct {
	FileAccess
}

type ListFilesResponse struct {
	Files []*File `json:"files"`
}

type UploadFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	// Size is the declared length; zero means len(Content).
	Size    int64  `json:"size,omitempty"`
	Content []byte `json:"content"`
}

type UploadFilesRequest struct {
	FileAccess
	Files []UploadFile `json:"files"`
}

type UploadFailure struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type UploadFilesResponse struct {
	Uploaded  []*File         `json:"uploaded"`
	Failed    []UploadFailure `json:"failed,omitempty"`
	FileCount int64           `json:"file_count"`
	ByteSize  int64           `json:"byte_size"`
}

type FileRequest struct {
	FileAccess
	FileID string `json:"file_id"`
}

type RenameFileRequest struct {
	FileAccess
	FileID string `json:"file_id"`
	Name   string `json:"name"`
}

type FileResponse struct {
	File *File `json:"file"`
}

func bucketToMessage(b *models.Bucket) *Bucket {
	m := &Bucket{
		ID:            b.ID,
		Name:          b.Name,
		Description:   b.Description,
		OwnerEmail:    b.OwnerEmail,
		Collaborators: b.Collaborators,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
		ExpiresAt:     b.CreatedAt.Add(lifecycle.ExpiryAge),
		Active:        b.Active,
		FileCount:     b.FileCount,
		ByteSize:      b.ByteSize,
		Color:         b.Color,
		Icon:          b.Icon,
		DeletedAt:     b.DeletedAt,
	}
	if !b.Active {
		d := lifecycle.RestoreDeadline(b)
		m.RestoreDeadline = &d
	}
	return m
}

// publicBucket drops the fields only the owner sees.
func publicBucket(b *models.Bucket) *Bucket {
	m := bucketToMessage(b)
	m.OwnerEmail = ""
	m.Collaborators = nil
	return m
}

func bucketsToMessages(list []*models.Bucket) []*Bucket {
	out := make([]*Bucket, 0, len(list))
	for _, b := range list {
		out = append(out, bucketToMessage(b))
	}
	return out
}

func fileToMessage(f *models.File) *File {
	return &File{
		ID:             f.ID,
		BucketID:       f.BucketID,
		Name:           f.Name,
		Size:           f.Size,
		ContentType:    f.ContentType,
		CreatedAt:      f.CreatedAt,
		Downloads:      f.Downloads,
		LastDownloadAt: f.LastDownloadAt,
		URL:            f.URL,
	}
}

func filesToMessages(list []*models.File) []*File {
	out := make([]*File, 0, len(list))
	for _, f := range list {
		out = append(out, fileToMessage(f))
	}
	return out
}
