package artifacts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/services"
)

// Kind names an output table.
type Kind string

const (
	KindOddsPath     Kind = "odds_path"
	KindExplanations Kind = "explanations"
)

// ObjectStore is the minimal object API the worker needs.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
	EnsureBucket(ctx context.Context, bucket string) error
}

// Buckets names the PDF and table buckets.
type Buckets struct {
	PDFs   string
	Tables string
}

// Store downloads source PDFs and uploads encoded tables.
type Store struct {
	objects ObjectStore
	encoder Encoder
	buckets Buckets
}

// NewStore wires an object store and a table encoder.
func NewStore(objects ObjectStore, encoder Encoder, buckets Buckets) *Store {
	return &Store{objects: objects, encoder: encoder, buckets: buckets}
}

// Buckets returns the configured bucket names.
func (s *Store) Buckets() Buckets {
	return s.buckets
}

// EnsureBuckets creates both buckets when missing.
func (s *Store) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.buckets.PDFs, s.buckets.Tables} {
		if err := s.objects.EnsureBucket(ctx, bucket); err != nil {
			return services.Wrap(services.ErrConfiguration, "startup", "ensure bucket", bucket, err)
		}
	}
	return nil
}

// PDFKey returns the object key of an uploaded PDF.
func PDFKey(taskID, filename string) string {
	return path.Join(taskID, "pdfs", filename)
}

// TableKey returns the object key of a result table.
func TableKey(taskID string, kind Kind, filename, ext string) string {
	return path.Join(taskID, "parquets", fmt.Sprintf("%s_%s.%s", kind, Stem(filename), ext))
}

// Stem strips directories and the extension from filename.
func Stem(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Download copies the task PDF to dest and returns its object key.
func (s *Store) Download(ctx context.Context, taskID, filename, dest string) (string, error) {
	key := PDFKey(taskID, filename)
	body, err := s.objects.Get(ctx, s.buckets.PDFs, key)
	if err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "get object", s.buckets.PDFs+"/"+key, err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "create directory", dest, err)
	}
	file, err := os.Create(dest)
	if err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "create file", dest, err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return "", services.Wrap(services.ErrAcquisition, "download", "copy object", key, err)
	}
	if err := file.Close(); err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "close file", dest, err)
	}
	return key, nil
}

// Upload encodes table and stores it under the key for kind. It returns the
// object key.
func (s *Store) Upload(ctx context.Context, taskID, filename string, table evidence.Table, kind Kind) (string, error) {
	payload, err := s.encoder.Encode(table, string(kind))
	if err != nil {
		return "", services.Wrap(services.ErrPersistence, "upload", "encode "+string(kind), filename, err)
	}
	key := TableKey(taskID, kind, filename, s.encoder.Extension())
	if err := s.objects.Put(ctx, s.buckets.Tables, key, payload, s.encoder.ContentType()); err != nil {
		return "", services.Wrap(services.ErrPersistence, "upload", "put object", s.buckets.Tables+"/"+key, err)
	}
	return key, nil
}
