// Package media persiste as mídias recebidas dos provedores em armazenamento
// durável, já que as URLs dos provedores expiram.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/config"
)

var ErrInvalidPath = errors.New("media: caminho inválido")

// ObjectStorage grava bytes em um caminho e devolve uma URL pública permanente.
type ObjectStorage interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
}

// New escolhe o backend conforme MEDIA_STORAGE_DRIVER.
func New(ctx context.Context, cfg config.ObjectStorageConfig, dataDir, baseURL string, log *zap.Logger) (ObjectStorage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(ctx, cfg, log)
	case "local", "":
		return NewLocalStorage(filepath.Join(dataDir, "media"), strings.TrimRight(baseURL, "/")+"/media", log)
	default:
		return nil, fmt.Errorf("media: driver desconhecido: %s", cfg.Driver)
	}
}

// TenantPath monta tenants/<tenant>/media/<yyyy>/<mm>/<uuid><ext>.
func TenantPath(tenantID, mimeType string, now time.Time) string {
	return path.Join(
		"tenants", tenantID, "media",
		now.UTC().Format("2006"), now.UTC().Format("01"),
		uuid.New().String()+ExtensionFor(mimeType),
	)
}

func cleanObjectPath(p string) (string, error) {
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", ErrInvalidPath
	}
	return p, nil
}

type LocalStorage struct {
	baseDir string
	baseURL string
	log     *zap.Logger
}

func NewLocalStorage(baseDir, baseURL string, log *zap.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("criar diretório de mídia: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/"), log: log}, nil
}

func (s *LocalStorage) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}

	filePath := filepath.Join(s.baseDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("criar diretório: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("salvar arquivo: %w", err)
	}

	s.log.Info("mídia salva",
		zap.String("path", clean),
		zap.Int("size", len(data)),
		zap.String("mimetype", contentType),
	)

	return s.baseURL + "/" + clean, nil
}

// Dir é servido em /media pelo router.
func (s *LocalStorage) Dir() string {
	return s.baseDir
}

func ExtensionFor(mimetype string) string {
	if i := strings.Index(mimetype, ";"); i >= 0 {
		mimetype = mimetype[:i]
	}
	switch strings.TrimSpace(strings.ToLower(mimetype)) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/3gpp":
		return ".3gp"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	default:
		return ".bin"
	}
}
