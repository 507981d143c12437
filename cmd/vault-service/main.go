package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/filevault/vault/internal/vault-service/database"
	"github.com/filevault/vault/internal/vault-service/handler"
	"github.com/filevault/vault/internal/vault-service/storage"
	"github.com/filevault/vault/internal/vault-service/vault"
)

// 10 GiB unless configured otherwise
const defaultQuotaBytes = int64(10) << 30

var (
	port       = "8080"
	dbFile     = database.DefaultFile
	quotaBytes = defaultQuotaBytes
	localPath  = "./data"

	s3Config = storage.S3Config{}
)

func init() {
	if p := os.Getenv("VAULT_PORT"); p != "" {
		port = p
	}
	if d := os.Getenv("DB_FILE"); d != "" {
		dbFile = d
	}
	if q, err := strconv.ParseInt(os.Getenv("QUOTA_BYTES"), 10, 64); err == nil && q > 0 {
		quotaBytes = q
	}
	if p := os.Getenv("LOCAL_STORAGE_PATH"); p != "" {
		localPath = p
	}

	s3Config.Bucket = os.Getenv("S3_BUCKET")
	s3Config.Region = os.Getenv("S3_REGION")
	s3Config.EndpointUrl = os.Getenv("S3_ENDPOINT_URL")
	s3Config.AccessKeyId = os.Getenv("S3_ACCESS_KEY_ID")
	s3Config.AccessKeySecret = os.Getenv("S3_ACCESS_KEY_SECRET")
	s3Config.ForcePathStyle, _ = strconv.ParseBool(os.Getenv("S3_FORCE_PATH_STYLE"))
}

func main() {
	l := log.New().WithFields(log.Fields{
		"vault_port":  port,
		"db_file":     dbFile,
		"quota_bytes": quotaBytes,
		"bucket":      s3Config.Bucket,
	})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer l.Println("got interruption signal")

	db, err := database.NewDb(dbFile)
	if err != nil {
		l.WithError(err).Fatal("failed to open database")
	}
	repo := database.NewRepository(db)

	object, err := storage.NewS3(ctx, s3Config, l)
	if err != nil {
		l.WithError(err).Fatal("failed to set up object storage")
	}
	local, err := storage.NewLocal(localPath, l)
	if err != nil {
		l.WithError(err).Fatal("failed to set up legacy local storage")
	}

	svc := vault.NewService(repo, object, storage.NewRouter(object, local),
		vault.DetectSniffer{}, vault.NewLogSink(l), quotaBytes, l)

	server := &http.Server{Addr: ":" + port, Handler: handler.NewHandler(svc, l)}

	go func() {
		l.Printf("listening to port %s\n", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Fatal("listen and serve returned err")
		}
	}()
	defer func() {
		if err := server.Shutdown(context.Background()); err != nil {
			l.WithError(err).Error("handler shutdown returned an err")
		}
	}()

	<-ctx.Done()
}
