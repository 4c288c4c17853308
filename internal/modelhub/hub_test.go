package modelhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func TestCache(t *testing.T) {
	logger := zap.NewNop()

	t.Run("EnvOverride", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "home")
		t.Setenv(HomeEnv, dir)

		c, err := AutoCache(logger)
		if err != nil {
			t.Fatalf("AutoCache failed: %v", err)
		}
		if c.Root() != dir {
			t.Errorf("Expected root %s, got %s", dir, c.Root())
		}
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("Cache dir was not created: %v", err)
		}
	})

	t.Run("HomeDefault", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv(HomeEnv, "")
		t.Setenv("HOME", home)

		c, err := AutoCache(logger)
		if err != nil {
			t.Fatalf("AutoCache failed: %v", err)
		}
		if want := filepath.Join(home, ".cache", libName); c.Root() != want {
			t.Errorf("Expected root %s, got %s", want, c.Root())
		}
	})

	t.Run("TempFallback", func(t *testing.T) {
		// HOME points at a file, so the home cache cannot be created.
		home := filepath.Join(t.TempDir(), "not-a-dir")
		if err := os.WriteFile(home, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv(HomeEnv, "")
		t.Setenv("HOME", home)

		c, err := AutoCache(logger)
		if err != nil {
			t.Fatalf("AutoCache failed: %v", err)
		}
		defer os.RemoveAll(c.Root())
		if filepath.Dir(c.Root()) != filepath.Clean(os.TempDir()) {
			t.Errorf("Expected a temporary cache, got %s", c.Root())
		}
	})

	t.Run("ModelDir", func(t *testing.T) {
		c, err := NewCache(t.TempDir())
		if err != nil {
			t.Fatalf("NewCache failed: %v", err)
		}
		dir, err := c.ModelDir("sentence-transformers/all-MiniLM-L6-v2")
		if err != nil {
			t.Fatalf("ModelDir failed: %v", err)
		}
		want := filepath.Join(c.Root(), "models", "sentence-transformers--all-MiniLM-L6-v2")
		if dir != want {
			t.Errorf("Expected %s, got %s", want, dir)
		}
	})
}

func TestRepoDownload(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/org/model/resolve/main/tokenizer.json", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"version":"1.0"}`))
	})
	mux.HandleFunc("/org/model/resolve/main/onnx/model.onnx", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Redirect(w, r, "/lfs/model.onnx", http.StatusFound)
	})
	mux.HandleFunc("/lfs/model.onnx", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("onnx-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	repo, err := NewRepo(cache, "org/model", "", zap.NewNop(), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewRepo failed: %v", err)
	}

	t.Run("FollowsRedirects", func(t *testing.T) {
		path, err := repo.Download(context.Background(), "onnx/model.onnx")
		if err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "onnx-bytes" {
			t.Errorf("Unexpected content %q", data)
		}
	})

	t.Run("SkipsCachedFiles", func(t *testing.T) {
		before := hits.Load()
		if err := repo.DownloadAll(context.Background(), "tokenizer.json", "tokenizer.json"); err != nil {
			t.Fatalf("DownloadAll failed: %v", err)
		}
		if got := hits.Load() - before; got != 1 {
			t.Errorf("Expected 1 request, got %d", got)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := repo.Download(context.Background(), "config.json"); err == nil {
			t.Error("Expected error for missing file")
		}
		if _, err := os.Stat(repo.Path("config.json")); !os.IsNotExist(err) {
			t.Error("Failed download left a file behind")
		}
	})
}
