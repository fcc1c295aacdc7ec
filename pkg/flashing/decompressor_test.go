package flashing

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
)

func writeGzip(t *testing.T, path string, content []byte) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeXz(t *testing.T, path string, content []byte) {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := xw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDecompress_Gzip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("system image data "), 10000)
	src := filepath.Join(dir, "image.img.gz")
	dest := filepath.Join(dir, "image.img")
	writeGzip(t, src, content)

	var events []Event
	err := Decompress(context.Background(), src, dest, CompressionGzip, func(ev Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("decompressed content differs from original")
	}

	if len(events) == 0 {
		t.Fatal("no progress events emitted")
	}
	// Progress is measured against the compressed input size.
	srcInfo, _ := os.Stat(src)
	last := events[len(events)-1]
	if last.BytesTotal != srcInfo.Size() {
		t.Errorf("BytesTotal = %d, want compressed size %d", last.BytesTotal, srcInfo.Size())
	}
	if last.BytesDone > last.BytesTotal {
		t.Errorf("BytesDone %d exceeds compressed size %d", last.BytesDone, last.BytesTotal)
	}
}

func TestDecompress_Xz(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("rootfs block "), 5000)
	src := filepath.Join(dir, "image.img.xz")
	dest := filepath.Join(dir, "image.img")
	writeXz(t, src, content)

	if err := Decompress(context.Background(), src, dest, CompressionXz, nil); err != nil {
		t.Fatalf("decompress failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("decompressed content differs from original")
	}
}

func TestDecompress_CorruptGzip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "corrupt.img.gz")
	dest := filepath.Join(dir, "corrupt.img")
	if err := os.WriteFile(src, []byte("this is not a gzip stream"), 0644); err != nil {
		t.Fatal(err)
	}

	err := Decompress(context.Background(), src, dest, CompressionGzip, nil)
	var cerr *CorruptArchiveError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptArchiveError, got %v", err)
	}
}

func TestDecompress_TruncatedStreamDeletesOutput(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("payload "), 50000)
	src := filepath.Join(dir, "trunc.img.gz")
	dest := filepath.Join(dir, "trunc.img")
	writeGzip(t, src, content)

	// Truncate the archive mid-stream.
	data, _ := os.ReadFile(src)
	if err := os.WriteFile(src, data[:len(data)/2], 0644); err != nil {
		t.Fatal(err)
	}

	err := Decompress(context.Background(), src, dest, CompressionGzip, nil)
	var cerr *CorruptArchiveError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptArchiveError, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial output file should have been deleted")
	}
}

func TestDecompress_CancelledDeletesOutput(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("big image "), 100000)
	src := filepath.Join(dir, "cancel.img.gz")
	dest := filepath.Join(dir, "cancel.img")
	writeGzip(t, src, content)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Decompress(ctx, src, dest, CompressionGzip, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial output file should have been deleted on cancel")
	}
}

func TestCompressionForName(t *testing.T) {
	tests := []struct {
		name string
		want Compression
	}{
		{"image.img.gz", CompressionGzip},
		{"image.img.xz", CompressionXz},
		{"image.img", CompressionNone},
		{"archive.tar.xz", CompressionXz},
	}
	for _, tt := range tests {
		if got := CompressionForName(tt.name); got != tt.want {
			t.Errorf("CompressionForName(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}
