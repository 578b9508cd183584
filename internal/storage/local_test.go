package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "scratch")

		storage, err := NewLocalStorage(tempDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}
		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}

		info, err := os.Stat(tempDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "tripreel")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("keeps the extension of the name hint", func(t *testing.T) {
		ctx := context.Background()

		path, err := storage.SaveTemp(ctx, "holiday.jpg", bytes.NewReader([]byte("jpeg bytes")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}

		base := filepath.Base(path)
		if !strings.HasPrefix(base, "holiday_") || filepath.Ext(base) != ".jpg" {
			t.Errorf("unexpected temp name %s", base)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "jpeg bytes" {
			t.Errorf("got %q, want %q", string(content), "jpeg bytes")
		}
	})

	t.Run("strips directories from the name hint", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "../../etc/passwd", strings.NewReader("x"))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		if filepath.Dir(path) != storage.TempDir() {
			t.Errorf("file escaped temp dir: %s", path)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_MakeTempDir(t *testing.T) {
	storage := setupTestStorage(t)

	a, err := storage.MakeTempDir(context.Background(), "job")
	if err != nil {
		t.Fatalf("MakeTempDir() error = %v", err)
	}
	b, err := storage.MakeTempDir(context.Background(), "job")
	if err != nil {
		t.Fatalf("MakeTempDir() error = %v", err)
	}

	if a == b {
		t.Error("expected unique directories")
	}
	if filepath.Dir(a) != storage.TempDir() {
		t.Errorf("dir %s not under temp dir", a)
	}
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	path, err := storage.SaveTemp(ctx, "clip.mp4", bytes.NewReader([]byte("video")))
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}

	reader, err := storage.LoadTemp(ctx, path)
	if err != nil {
		t.Fatalf("LoadTemp() error = %v", err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(content) != "video" {
		t.Errorf("got %q, want %q", string(content), "video")
	}

	if _, err := storage.LoadTemp(ctx, "/non/existent/file"); err == nil {
		t.Error("expected error for non-existent file")
	}
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files and directories", func(t *testing.T) {
		dir, err := storage.MakeTempDir(ctx, "work")
		if err != nil {
			t.Fatalf("MakeTempDir() error = %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "a.png"), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		file, err := storage.SaveTemp(ctx, "loose", bytes.NewReader([]byte("data")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}

		if err := storage.CleanupTemp(ctx, []string{dir, file, ""}); err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range []string{dir, file} {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("%s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent paths", func(t *testing.T) {
		if err := storage.CleanupTemp(ctx, []string{"/non/existent/file"}); err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent paths, got %v", err)
		}
	})

	t.Run("runs even when the context is cancelled", func(t *testing.T) {
		file, err := storage.SaveTemp(ctx, "late", bytes.NewReader([]byte("data")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		if err := storage.CleanupTemp(cancelled, []string{file}); err != nil {
			t.Errorf("CleanupTemp() error = %v", err)
		}
		if _, err := os.Stat(file); !os.IsNotExist(err) {
			t.Error("file should be removed")
		}
	})
}

func TestLocalStorage_S3Unsupported(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	if _, err := storage.UploadToS3(ctx, "key", "video/mp4", bytes.NewReader([]byte("data"))); !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
	if _, err := storage.DownloadFolder(ctx, "s3://bucket/prefix", t.TempDir()); !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "tripreel_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	storage, err := NewLocalStorage(tempDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
