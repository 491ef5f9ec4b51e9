package adapter

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"google.golang.org/api/option"
)

// Storage is the interface for exported guide documents
type Storage interface {
	// Put returns a writer to save an object under key
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get loads the object saved under key. A missing object is reported
	// with model.ErrTagNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client. opts are passed to the
// underlying client, e.g. option.WithCredentialsFile.
func NewStorage(ctx context.Context, bucketName string, opts ...option.ClientOption) (Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	bucket := s.client.Bucket(s.bucketName)
	obj := bucket.Object(key)
	writer := obj.NewWriter(ctx)
	if strings.HasSuffix(key, ".md") {
		writer.ContentType = "text/markdown; charset=utf-8"
	}
	return writer, nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket := s.client.Bucket(s.bucketName)
	obj := bucket.Object(key)
	reader, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(err, "object not found", goerr.T(model.ErrTagNotFound), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

// fileStorage implements Storage interface on a local directory
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage that keeps objects as files under root
func NewFileStorage(root string) (Storage, error) {
	if root == "" {
		return nil, goerr.New("storage directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", root))
	}
	return &fileStorage{root: root}, nil
}

func (s *fileStorage) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", goerr.New("storage key escapes root directory", goerr.V("key", key))
	}
	return p, nil
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create object directory", goerr.V("key", key))
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create object file", goerr.V("key", key))
	}
	return f, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(err, "object not found", goerr.T(model.ErrTagNotFound), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}
	return f, nil
}
