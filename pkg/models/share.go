package models

import "time"

type ShareType string

const (
	ShareTypeFile        ShareType = "FILE"
	ShareTypeFileRequest ShareType = "FILE_REQUEST"
)

// Share is the persisted record layout. The record store's TTL sweeper and
// owner listing key off these fields, so renames here are breaking.
type Share struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Type      ShareType `json:"type"`
	Title     string    `json:"title"`
	FileName  string    `json:"fileName,omitempty"`
	File      string    `json:"file,omitempty"`
	UploadID  string    `json:"uploadId,omitempty"`
	Expire    int64     `json:"expire"`
	CreatedAt time.Time `json:"createdAt"`
}

// Fulfilled reports whether a file has been bound to the share.
func (s *Share) Fulfilled() bool {
	return s.File != ""
}

// Expired reports whether the share's TTL has passed. Expiry dominates every
// other state: an expired record is treated as absent even before the
// sweeper removes it.
func (s *Share) Expired(now time.Time) bool {
	return s.Expire <= now.UTC().Unix()
}

// BoundStorage reports whether the share still references storage that must
// be released when the record goes away.
func (s *Share) BoundStorage() bool {
	return s.File != "" || s.UploadID != ""
}
