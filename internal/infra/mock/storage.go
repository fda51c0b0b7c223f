package mock

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"counseling/internal/domain"
	"counseling/internal/ports"
)

var _ ports.Storage = (*Storage)(nil)

// Storage is an in-memory object store. Objects appear through Put or an HTTP PUT
// to the signed upload URL; URLs point at BaseURL.
type Storage struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]ports.ObjectInfo
	data    map[string][]byte
}

func NewStorage(baseURL string) *Storage {
	return &Storage{
		BaseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]ports.ObjectInfo),
		data:    make(map[string][]byte),
	}
}

// Put registers an object as uploaded without content.
func (s *Storage) Put(key string, size int64, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = ports.ObjectInfo{Key: key, Size: size, ContentType: contentType, LastModified: time.Now().UTC()}
	delete(s.data, key)
}

// ServeHTTP serves the signed URLs. Mount it under the path of BaseURL with
// the prefix stripped, so the request path is the object key.
func (s *Storage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPut:
		if r.URL.Query().Get("op") != "put" {
			http.Error(w, "not an upload url", http.StatusForbidden)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2*domain.MaxAudioFileSize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		s.mu.Lock()
		s.objects[key] = ports.ObjectInfo{
			Key:          key,
			Size:         int64(len(body)),
			ContentType:  r.Header.Get("Content-Type"),
			LastModified: time.Now().UTC(),
		}
		s.data[key] = body
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.mu.RLock()
		info, ok := s.objects[key]
		body := s.data[key]
		s.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if info.ContentType != "" {
			w.Header().Set("Content-Type", info.ContentType)
		}
		_, _ = w.Write(body)
	default:
		w.Header().Set("Allow", "GET, PUT")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *Storage) signed(op, key string, expires time.Duration) string {
	q := url.Values{}
	q.Set("op", op)
	q.Set("expires", expires.String())
	return s.BaseURL + "/" + key + "?" + q.Encode()
}

func (s *Storage) UploadURL(_ context.Context, key, _ string, expires time.Duration) (string, error) {
	return s.signed("put", key, expires), nil
}

func (s *Storage) DownloadURL(_ context.Context, key string, expires time.Duration) (string, error) {
	return s.signed("get", key, expires), nil
}

func (s *Storage) Stat(_ context.Context, key string) (ports.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.objects[key]
	if !ok {
		return ports.ObjectInfo{}, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return info, nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.data, key)
	return nil
}
