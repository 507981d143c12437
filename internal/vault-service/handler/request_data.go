package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	fieldNameUserID = "user_id"
	fieldNameFileID = "id"
	fieldNameToken  = "token"
)

var (
	errCantParseForm = errors.New("can't parse request form")
	errNoFile        = errors.New("file has not been provided")
	errBadFileID     = errors.New("invalid file id")
	errBadShareID    = errors.New("invalid share id")
)

type requestData struct {
	userID string
	fileID uuid.UUID
	file   *fileData
}

type fileData struct {
	f      multipart.File
	header *multipart.FileHeader
	folder string
}

func newRequestData(r *http.Request, logger *log.Entry) (*requestData, error) {
	username, _, _ := r.BasicAuth()
	rd := &requestData{userID: username}
	l := logger.WithField(fieldNameUserID, username)

	if raw := r.PathValue(fieldNameFileID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			l.WithError(err).Error(errBadFileID)
			return nil, errBadFileID
		}
		rd.fileID = id
	}

	if r.Method != http.MethodPost || r.URL.Path != "/files" {
		return rd, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		l.WithError(err).Error(errCantParseForm)
		return nil, errCantParseForm
	}

	f, fh, err := r.FormFile("file")
	if err != nil {
		l.WithError(err).Error(errNoFile)
		return nil, errNoFile
	}
	rd.file = &fileData{f: f, header: fh, folder: r.FormValue("folder")}
	return rd, nil
}

// shareRequest is the JSON body for issuing a public share.
type shareRequest struct {
	ExpiresInSec int64  `json:"expires_in"`
	MaxDownloads *int64 `json:"max_downloads"`
}

func (s *shareRequest) expiresAt() *time.Time {
	if s.ExpiresInSec <= 0 {
		return nil
	}
	t := time.Now().Add(time.Duration(s.ExpiresInSec) * time.Second)
	return &t
}

// directShareRequest is the JSON body for sharing a file with another user.
type directShareRequest struct {
	ToUserID string `json:"to_user_id"`
	Message  string `json:"message"`
}

func parseShareID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(fieldNameFileID))
	if err != nil {
		return uuid.Nil, errBadShareID
	}
	return id, nil
}

func declaredSize(fh *multipart.FileHeader, r *http.Request) int64 {
	// the multipart header carries the spooled size; an explicit declared
	// size from the client wins when present
	if v := r.FormValue("size"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fh.Size
}
