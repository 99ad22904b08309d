package db

import (
	"context"
	"errors"
	"fmt"
	"os"

	"memorybox/config"

	"go.uber.org/zap"
)

// ErrNoDocument is returned by Storage.Load when nothing has been persisted yet.
var ErrNoDocument = errors.New("no document stored")

// Storage is the durable mirror of the document. It stores opaque bytes;
// the Database owns encoding.
type Storage interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	String() string
}

// NewStorage builds the backend selected by cfg.StorageBackend.
func NewStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Storage, error) {
	switch cfg.StorageBackend {
	case "", "file":
		return &FileStorage{Path: cfg.DbFilePath, Backup: cfg.EnableBackup, logger: logger}, nil
	case "s3":
		return NewS3Storage(ctx, S3Options{
			Bucket:       cfg.S3Bucket,
			Key:          cfg.S3Key,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.StorageBackend)
}

// --- File Storage ---

// FileStorage keeps the document in a single JSON file. Writes go to a
// temporary file that is renamed over the target, so a reader never sees a
// partially written document.
type FileStorage struct {
	Path   string
	Backup bool // Keep the previous file as <Path>.bak
	logger *zap.Logger
}

// NewFileStorage returns a file backend at path.
func NewFileStorage(path string, backup bool, logger *zap.Logger) *FileStorage {
	return &FileStorage{Path: path, Backup: backup, logger: logger}
}

func (fs *FileStorage) String() string {
	return "file://" + fs.Path
}

func (fs *FileStorage) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(fs.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDocument
		}
		return nil, err
	}
	return data, nil
}

func (fs *FileStorage) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tempFilePath := fs.Path + ".tmp"
	backupFilePath := fs.Path + ".bak"

	if err := os.WriteFile(tempFilePath, data, 0644); err != nil {
		return fmt.Errorf("write temporary file '%s': %w", tempFilePath, err)
	}

	if fs.Backup {
		if _, err := os.Stat(fs.Path); err == nil {
			if err := os.Rename(fs.Path, backupFilePath); err != nil {
				// Not fatal, the new content is still written below.
				fs.log().Warn("failed to create backup file",
					zap.String("path", backupFilePath), zap.Error(err))
			}
		} else if !os.IsNotExist(err) {
			fs.log().Warn("failed to stat document before backup",
				zap.String("path", fs.Path), zap.Error(err))
		}
	}

	if err := os.Rename(tempFilePath, fs.Path); err != nil {
		_ = os.Remove(tempFilePath)
		return fmt.Errorf("rename '%s' to '%s': %w", tempFilePath, fs.Path, err)
	}
	return nil
}

func (fs *FileStorage) log() *zap.Logger {
	if fs.logger == nil {
		return zap.NewNop()
	}
	return fs.logger
}
