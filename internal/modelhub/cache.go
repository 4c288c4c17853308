package modelhub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// HomeEnv overrides the cache root.
const HomeEnv = "SIMSCORE_HOME"

const libName = "simscore"

// Cache is the on-disk layout for downloaded models.
type Cache struct {
	root string
}

// NewCache uses root as the cache directory, creating it if needed.
func NewCache(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", root, err)
	}
	return &Cache{root: root}, nil
}

// AutoCache resolves the cache directory from $SIMSCORE_HOME, then
// ~/.cache/simscore, then a fresh temporary directory.
func AutoCache(logger *zap.Logger) (*Cache, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		c, err := NewCache(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("Using model cache", zap.String("path", dir), zap.String("source", "env"))
		return c, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		if _, statErr := os.Stat(home); statErr == nil {
			dir := filepath.Join(home, ".cache", libName)
			c, err := NewCache(dir)
			if err == nil {
				logger.Info("Using model cache", zap.String("path", dir), zap.String("source", "home"))
				return c, nil
			}
			logger.Warn("Failed to create home cache, falling back to temporary cache", zap.Error(err))
		}
	}

	dir, err := os.MkdirTemp("", libName)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary cache: %w", err)
	}
	logger.Info("Using model cache", zap.String("path", dir), zap.String("source", "temp"))
	return &Cache{root: dir}, nil
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// ModelDir returns the directory for a repository id, creating it.
// "org/name" maps to models/org--name.
func (c *Cache) ModelDir(repoID string) (string, error) {
	dir := filepath.Join(c.root, "models", strings.ReplaceAll(repoID, "/", "--"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model dir: %w", err)
	}
	return dir, nil
}
