package models

import (
	"io"
	"time"
)

// File describes an object stored in a bucket. The content itself lives in
// object storage under StorageKey.
type File struct {
	ID          string
	BucketID    string
	Name        string
	Size        int64
	ContentType string
	UploaderID  string
	CreatedAt   time.Time

	StorageKey string
	URL        string

	Active         bool
	Downloads      int64
	LastDownloadAt *time.Time
}

// UploadInput is one file of an UploadFiles call.
type UploadInput struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// UsageTotals is the live file count and byte size of a bucket.
type UsageTotals struct {
	Files int64
	Bytes int64
}
