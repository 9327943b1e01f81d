package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeBackend struct {
	putFn    func(ctx context.Context, name string, data []byte, mimeType string) error
	deleteFn func(ctx context.Context, name string) error
}

func (f *fakeBackend) Put(ctx context.Context, name string, data []byte, mimeType string) error {
	if f.putFn != nil {
		return f.putFn(ctx, name, data, mimeType)
	}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, name string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, name)
	}
	return nil
}

func TestSaveFileRejectsOversize(t *testing.T) {
	svc := NewService(&fakeBackend{}, 10)

	_, err := svc.SaveFile(context.Background(), make([]byte, 11), "image/png")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSaveFileRejectsUnsupportedType(t *testing.T) {
	svc := NewService(&fakeBackend{}, 1024)

	cases := []string{"application/zip", "text/html", "application/x-msdownload", ""}
	for _, mime := range cases {
		_, err := svc.SaveFile(context.Background(), []byte("data"), mime)
		if !errors.Is(err, ErrUnsupportedFileType) {
			t.Fatalf("mime %q: expected ErrUnsupportedFileType, got %v", mime, err)
		}
	}
}

func TestSaveFileNamesByMime(t *testing.T) {
	var gotName, gotMime string
	backend := &fakeBackend{
		putFn: func(ctx context.Context, name string, data []byte, mimeType string) error {
			gotName = name
			gotMime = mimeType
			return nil
		},
	}
	svc := NewService(backend, 1024)

	name, err := svc.SaveFile(context.Background(), []byte("data"), "image/jpeg; charset=binary")
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if name != gotName {
		t.Fatalf("returned name %q but stored %q", name, gotName)
	}
	if !strings.HasPrefix(name, "proof_") {
		t.Fatalf("expected proof_ prefix, got %q", name)
	}
	if !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("expected .jpg suffix for image/jpeg, got %q", name)
	}
	if gotMime != "image/jpeg" {
		t.Fatalf("expected normalized mime image/jpeg, got %q", gotMime)
	}
}

func TestSaveFileAcceptsAllowedTypes(t *testing.T) {
	svc := NewService(&fakeBackend{}, 1024)

	cases := map[string]string{
		"image/png":       ".png",
		"image/gif":       ".gif",
		"image/webp":      ".webp",
		"application/pdf": ".pdf",
		"video/mp4":       ".mp4",
		"video/webm":      ".webm",
		"video/quicktime": ".mov",
		"IMAGE/PNG":       ".png",
	}
	for mime, ext := range cases {
		name, err := svc.SaveFile(context.Background(), []byte("data"), mime)
		if err != nil {
			t.Fatalf("mime %q: %v", mime, err)
		}
		if !strings.HasSuffix(name, ext) {
			t.Fatalf("mime %q: expected suffix %q, got %q", mime, ext, name)
		}
	}
}

func TestDeleteFileRefusesEscapingNames(t *testing.T) {
	backend := &fakeBackend{
		deleteFn: func(ctx context.Context, name string) error {
			t.Fatalf("backend delete called for unsafe name %q", name)
			return nil
		},
	}
	svc := NewService(backend, 1024)

	cases := []string{"", ".", "..", "../secret", "a/b", `a\b`, "/etc/passwd"}
	for _, name := range cases {
		if err := svc.DeleteFile(context.Background(), name); !errors.Is(err, ErrUnsafePath) {
			t.Fatalf("name %q: expected ErrUnsafePath, got %v", name, err)
		}
	}
}

func TestDiskStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ctx := context.Background()

	if err := disk.Put(ctx, "proof_abc.png", []byte("payload"), "image/png"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "proof_abc.png"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("stored %q", data)
	}

	if err := disk.Delete(ctx, "proof_abc.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "proof_abc.png")); !os.IsNotExist(err) {
		t.Fatalf("file still present after delete: %v", err)
	}
}

func TestDiskStoreDeleteMissingIsNoop(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	if err := disk.Delete(context.Background(), "proof_gone.png"); err != nil {
		t.Fatalf("Delete of missing file: %v", err)
	}
}

func TestDiskStoreRefusesTraversal(t *testing.T) {
	dir := t.TempDir()
	disk, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	ctx := context.Background()

	if err := disk.Put(ctx, "../outside.png", []byte("x"), "image/png"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Put traversal: expected ErrUnsafePath, got %v", err)
	}
	if err := disk.Delete(ctx, "../outside.png"); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("Delete traversal: expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "outside.png")); !os.IsNotExist(err) {
		t.Fatalf("traversal escaped the root: %v", err)
	}
}
