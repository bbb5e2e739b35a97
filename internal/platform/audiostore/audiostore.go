// Package audiostore persists briefing audio artifacts and serves them back
// over HTTP. It defines the Store interface, a disk-backed implementation,
// an in-memory implementation for testing and development, and an Echo
// handler streaming artifacts on GET /static/audio/:name.
package audiostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

var (
	ErrArtifactNotFound = errors.New("audio artifact not found")
	ErrInvalidName      = errors.New("invalid artifact name")
)

// URLPathPrefix is the public route prefix artifacts are served under.
const URLPathPrefix = "/static/audio/"

// BriefingName returns the artifact name for a given day. The name is fixed
// per day, so a second briefing overwrites the first.
func BriefingName(day time.Time) string {
	return fmt.Sprintf("briefing_%s.mp3", day.Format("2006-01-02"))
}

// URLPath returns the public path an artifact is served at.
func URLPath(name string) string {
	return URLPathPrefix + name
}

// validateName rejects names that could escape the artifact directory and
// anything that is not an mp3.
func validateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if filepath.Base(name) != name || strings.Contains(name, "..") {
		return ErrInvalidName
	}
	if !strings.HasSuffix(name, ".mp3") {
		return ErrInvalidName
	}
	return nil
}

// Store defines the contract for audio artifact storage backends.
type Store interface {
	Save(ctx context.Context, name string, audio []byte) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// ---------------------------------------------------------------------------
// Disk implementation
// ---------------------------------------------------------------------------

// DiskStore writes artifacts as files under a single directory.
type DiskStore struct {
	dir string
}

// NewDiskStore creates the artifact directory if needed and returns a store
// over it.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = "./static/audio"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Save writes the artifact, replacing any existing file of the same name.
func (s *DiskStore) Save(_ context.Context, name string, audio []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), audio, 0o644); err != nil {
		return fmt.Errorf("write audio artifact: %w", err)
	}
	return nil
}

// Open returns a reader over the artifact content.
func (s *DiskStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("open audio artifact: %w", err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemStore is a thread-safe, in-memory Store for testing/dev.
type MemStore struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
}

// NewMemStore returns a ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		artifacts: make(map[string][]byte),
	}
}

// Save stores the artifact in memory, replacing any existing entry.
func (s *MemStore) Save(_ context.Context, name string, audio []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	data := make([]byte, len(audio))
	copy(data, audio)

	s.mu.Lock()
	s.artifacts[name] = data
	s.mu.Unlock()
	return nil
}

// Open returns a reader over the stored artifact.
func (s *MemStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.artifacts[name]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// Handler provides the Echo handler for artifact downloads.
type Handler struct {
	store Store
}

// NewHandler creates a new Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the download route on the supplied Echo group,
// expected to be rooted at /static.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/audio/:name", h.handleGet)
}

func (h *Handler) handleGet(c echo.Context) error {
	name := c.Param("name")

	rc, err := h.store.Open(c.Request().Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrArtifactNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	defer rc.Close()

	return c.Stream(http.StatusOK, "audio/mpeg", rc)
}
