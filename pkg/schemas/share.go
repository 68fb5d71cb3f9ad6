package schemas

import (
	"time"

	"github.com/shareloft/shareloft/pkg/models"
)

type CreateShare struct {
	Type     models.ShareType `json:"type" validate:"required,oneof=FILE FILE_REQUEST"`
	Title    string           `json:"title" validate:"required,max=256"`
	Expire   int64            `json:"expire" validate:"required,gt=0"`
	File     string           `json:"file,omitempty" validate:"max=1024"`
	FileName string           `json:"fileName,omitempty" validate:"max=255"`
}

type ShareOut struct {
	ID        string           `json:"id"`
	Type      models.ShareType `json:"type"`
	Title     string           `json:"title"`
	FileName  string           `json:"fileName,omitempty"`
	Fulfilled bool             `json:"fulfilled"`
	Expire    int64            `json:"expire"`
	CreatedAt time.Time        `json:"createdAt"`
}

func ToShareOut(s *models.Share) *ShareOut {
	return &ShareOut{
		ID:        s.ID,
		Type:      s.Type,
		Title:     s.Title,
		FileName:  s.FileName,
		Fulfilled: s.Fulfilled(),
		Expire:    s.Expire,
		CreatedAt: s.CreatedAt,
	}
}

type FulfillmentTarget struct {
	Title string `json:"title"`
}

type FulfillPayload struct {
	FileName string `json:"fileName" validate:"required,max=255"`
	FileType string `json:"fileType" validate:"required,max=255"`
	FileSize int64  `json:"fileSize" validate:"required,gt=0"`
}

type FulfillmentSession struct {
	UploadUrls []string `json:"uploadUrls"`
}
