package modelhub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the HuggingFace Hub endpoint.
const DefaultBaseURL = "https://huggingface.co"

// Repo downloads files of one model repository at a fixed revision.
type Repo struct {
	BaseURL string
	RepoID  string
	Ref     string
	Dir     string
	client  *http.Client
	logger  *zap.Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithBaseURL points the repo at a different hub endpoint.
func WithBaseURL(url string) Option {
	return func(r *Repo) { r.BaseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Repo) { r.client = c }
}

// NewRepo prepares a repository whose files land in the cache's model dir.
// An empty ref means "main".
func NewRepo(cache *Cache, repoID, ref string, logger *zap.Logger, opts ...Option) (*Repo, error) {
	if repoID == "" {
		return nil, fmt.Errorf("repository id is required")
	}
	if ref == "" {
		ref = "main"
	}
	dir, err := cache.ModelDir(repoID)
	if err != nil {
		return nil, err
	}

	r := &Repo{
		BaseURL: DefaultBaseURL,
		RepoID:  repoID,
		Ref:     ref,
		Dir:     dir,
		// http.Client follows redirects, which LFS objects rely on.
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the local path of file inside the repo dir.
func (r *Repo) Path(file string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(file))
}

// Download fetches file unless it is already cached and returns its path.
func (r *Repo) Download(ctx context.Context, file string) (string, error) {
	dest := r.Path(file)
	if _, err := os.Stat(dest); err == nil {
		r.logger.Debug("Model file already cached", zap.String("path", dest))
		return dest, nil
	}
	if err := r.fetch(ctx, file, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// DownloadAll fetches every file in order, stopping at the first failure.
func (r *Repo) DownloadAll(ctx context.Context, files ...string) error {
	for _, f := range files {
		if _, err := r.Download(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// URL returns the resolve URL of file.
func (r *Repo) URL(file string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", r.BaseURL, r.RepoID, r.Ref, file)
}

func (r *Repo) fetch(ctx context.Context, file, dest string) error {
	url := r.URL(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	r.logger.Info("Downloading model file", zap.String("url", url), zap.String("dest", dest))
	start := time.Now()

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	r.logger.Info("Downloaded model file",
		zap.String("url", url),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)))
	return nil
}
