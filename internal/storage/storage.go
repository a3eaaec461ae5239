package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ObjectInfo is the metadata a Stat returns without fetching the body.
type ObjectInfo struct {
	ContentType string
	Size        int64
	ETag        string
}

// Object is a fetched blob.
type Object struct {
	Data        []byte
	ContentType string
	Size        int64
	ETag        string
}

// BlobStorage is the durable store for source files and rendered
// artifacts. Put returns a stable URL for the stored object.
type BlobStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) (*Object, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// FilesystemStorage stores blobs on local disk. Used for single-node
// deployments and tests.
type FilesystemStorage struct {
	basePath string
	baseURL  string
}

func NewFilesystemStorage(basePath, baseURL string) *FilesystemStorage {
	os.MkdirAll(basePath, 0755)
	return &FilesystemStorage{basePath: basePath, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// cleanPath rejects keys that would escape the base directory.
func (fs *FilesystemStorage) cleanPath(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.basePath, cleaned), nil
}

func (fs *FilesystemStorage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := fs.cleanPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return fs.baseURL + "/" + key, nil
}

func (fs *FilesystemStorage) Get(ctx context.Context, key string) (*Object, error) {
	path, err := fs.cleanPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &Object{
		Data:        data,
		ContentType: detectType(key, data),
		Size:        int64(len(data)),
		ETag:        hex.EncodeToString(sum[:8]),
	}, nil
}

func (fs *FilesystemStorage) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := fs.cleanPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	// Sniff the type from the first block; disk storage has no
	// content-type metadata of its own.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := f.Read(head)

	return &ObjectInfo{
		ContentType: detectType(key, head[:n]),
		Size:        info.Size(),
		ETag:        fmt.Sprintf("%x-%d", info.ModTime().UnixNano(), info.Size()),
	}, nil
}

func (fs *FilesystemStorage) Delete(ctx context.Context, key string) error {
	path, err := fs.cleanPath(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// detectType prefers the extension (DetectContentType cannot tell SVG
// or CSV from plain text) and falls back to sniffing.
func detectType(key string, head []byte) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain"
	}
	return http.DetectContentType(head)
}
