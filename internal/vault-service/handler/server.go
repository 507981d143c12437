package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/filevault/vault/internal/vault-service/database"
	"github.com/filevault/vault/internal/vault-service/handler/middleware"
	"github.com/filevault/vault/internal/vault-service/vault"
)

// VaultService is the engine surface the transport needs.
type VaultService interface {
	UploadFile(ctx context.Context, userID string, r io.Reader, name string,
		declaredSize int64, declaredMime, folderID string) (*database.File, error)
	OpenFile(ctx context.Context, userID string, fileID uuid.UUID) (*database.File, io.ReadCloser, error)
	ListFiles(userID string) ([]*database.File, error)
	DeleteFile(ctx context.Context, userID string, fileID uuid.UUID) error
	Quota(userID string) (used, limit int64, err error)

	IssuePublicShare(userID string, fileID uuid.UUID, expiresAt *time.Time, maxDownloads *int64) (*database.ShareToken, error)
	RevokeShare(userID string, shareID uuid.UUID) error
	RedeemPublicShare(ctx context.Context, token, accessorIP, accessorUA string) (*database.File, io.ReadCloser, error)

	ShareWithUser(fromUserID string, fileID uuid.UUID, toUserID, message string) (*database.DirectShare, error)
	SharesReceived(userID string) ([]*database.DirectShare, error)
	MarkShareRead(userID string, shareID uuid.UUID) error
}

func NewHandler(svc VaultService, l *log.Entry) *http.ServeMux {
	handler := http.NewServeMux()

	handler.Handle("POST /files", middleware.CheckAuth(http.HandlerFunc(uploadFile(svc, l))))
	handler.Handle("GET /files", middleware.CheckAuth(http.HandlerFunc(listFiles(svc, l))))
	handler.Handle("GET /files/{id}", middleware.CheckAuth(http.HandlerFunc(downloadFile(svc, l))))
	handler.Handle("DELETE /files/{id}", middleware.CheckAuth(http.HandlerFunc(deleteFile(svc, l))))
	handler.Handle("GET /quota", middleware.CheckAuth(http.HandlerFunc(getQuota(svc, l))))

	handler.Handle("POST /files/{id}/shares", middleware.CheckAuth(http.HandlerFunc(issueShare(svc, l))))
	handler.Handle("DELETE /shares/{id}", middleware.CheckAuth(http.HandlerFunc(revokeShare(svc, l))))
	handler.Handle("POST /files/{id}/send", middleware.CheckAuth(http.HandlerFunc(sendToUser(svc, l))))
	handler.Handle("GET /shares/received", middleware.CheckAuth(http.HandlerFunc(receivedShares(svc, l))))
	handler.Handle("POST /shares/received/{id}/read", middleware.CheckAuth(http.HandlerFunc(markShareRead(svc, l))))

	// token-bearing access, no vault authentication
	handler.HandleFunc("GET /public/{token}", redeemShare(svc, l))

	return handler
}

func uploadFile(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		defer func() {
			_ = rd.file.f.Close()
		}()
		l := logger.WithFields(log.Fields{
			fieldNameUserID: rd.userID,
			"name":          rd.file.header.Filename,
		})

		file, err := svc.UploadFile(r.Context(), rd.userID, rd.file.f,
			rd.file.header.Filename,
			declaredSize(rd.file.header, r),
			rd.file.header.Header.Get("Content-Type"),
			rd.file.folder)
		if err != nil {
			writeServiceError(rw, l, err)
			return
		}
		l.WithField("file_id", file.ID).Info("file uploaded")
		writeJSON(rw, http.StatusCreated, file)
	}
}

func listFiles(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		files, err := svc.ListFiles(rd.userID)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		if files == nil {
			files = []*database.File{}
		}
		writeJSON(rw, http.StatusOK, files)
	}
}

func downloadFile(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		file, rc, err := svc.OpenFile(r.Context(), rd.userID, rd.fileID)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		defer func() {
			_ = rc.Close()
		}()
		streamBlob(rw, logger, file, rc)
	}
}

func deleteFile(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.DeleteFile(r.Context(), rd.userID, rd.fileID); err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func getQuota(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		used, limit, err := svc.Quota(rd.userID)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]int64{
			"used_bytes":  used,
			"limit_bytes": limit,
		})
	}
}

func issueShare(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		var req shareRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(rw, "invalid request body", http.StatusBadRequest)
				return
			}
		}
		tok, err := svc.IssuePublicShare(rd.userID, rd.fileID, req.expiresAt(), req.MaxDownloads)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		writeJSON(rw, http.StatusCreated, tok)
	}
}

func revokeShare(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		id, err := parseShareID(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.RevokeShare(username, id); err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func sendToUser(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		rd, err := newRequestData(r, logger)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		var req directShareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(rw, "invalid request body", http.StatusBadRequest)
			return
		}
		ds, err := svc.ShareWithUser(rd.userID, rd.fileID, req.ToUserID, req.Message)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		writeJSON(rw, http.StatusCreated, ds)
	}
}

func receivedShares(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		shares, err := svc.SharesReceived(username)
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		if shares == nil {
			shares = []*database.DirectShare{}
		}
		writeJSON(rw, http.StatusOK, shares)
	}
}

func markShareRead(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		username, _, _ := r.BasicAuth()
		id, err := parseShareID(r)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.MarkShareRead(username, id); err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}
}

func redeemShare(svc VaultService, logger *log.Entry) func(rw http.ResponseWriter, r *http.Request) {
	return func(rw http.ResponseWriter, r *http.Request) {
		token := r.PathValue(fieldNameToken)
		if token == "" {
			http.NotFound(rw, r)
			return
		}
		file, rc, err := svc.RedeemPublicShare(r.Context(), token, r.RemoteAddr, r.UserAgent())
		if err != nil {
			writeServiceError(rw, logger, err)
			return
		}
		defer func() {
			_ = rc.Close()
		}()
		streamBlob(rw, logger, file, rc)
	}
}

func streamBlob(rw http.ResponseWriter, l *log.Entry, file *database.File, rc io.ReadCloser) {
	if file.Blob != nil && file.Blob.MimeType != "" {
		rw.Header().Set("Content-Type", file.Blob.MimeType)
	}
	rw.Header().Set("Content-Disposition", `attachment; filename="`+file.DisplayName+`"`)
	if n, err := io.Copy(rw, rc); err != nil {
		l.WithError(err).Error("can't stream blob")
	} else {
		l.WithField("size", n).Debug("blob sent")
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeServiceError(rw http.ResponseWriter, l *log.Entry, err error) {
	var (
		ve *vault.ValidationError
		qe *vault.QuotaExceededError
		se *vault.StorageError
	)
	switch {
	case errors.As(err, &ve):
		http.Error(rw, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &qe):
		l.WithError(err).Info("quota denied")
		http.Error(rw, qe.Error(), http.StatusForbidden)
	case errors.Is(err, vault.ErrNotFound):
		http.Error(rw, err.Error(), http.StatusNotFound)
	case errors.Is(err, vault.ErrForbidden):
		http.Error(rw, err.Error(), http.StatusForbidden)
	case errors.Is(err, vault.ErrExpired), errors.Is(err, vault.ErrExhausted):
		http.Error(rw, err.Error(), http.StatusGone)
	case errors.Is(err, vault.ErrConflict):
		http.Error(rw, err.Error(), http.StatusConflict)
	case errors.As(err, &se):
		l.WithError(err).Error("storage failure")
		http.Error(rw, "something went wrong, please try later", http.StatusInternalServerError)
	default:
		l.WithError(err).Error("unhandled service error")
		http.Error(rw, "something went wrong, please try later", http.StatusInternalServerError)
	}
}
