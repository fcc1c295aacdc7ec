package flashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVerify_Match(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.img")
	content := []byte("known fixture content for digest verification")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256(content)
	expected := hex.EncodeToString(sum[:])

	actual, err := Verify(context.Background(), path, expected, nil)
	if err != nil {
		t.Fatalf("verify failed on matching digest: %v", err)
	}
	if actual != expected {
		t.Errorf("actual digest = %s, want %s", actual, expected)
	}

	// Case-insensitive comparison.
	upper := ""
	for _, c := range expected {
		if c >= 'a' && c <= 'f' {
			upper += string(c - 32)
		} else {
			upper += string(c)
		}
	}
	if _, err := Verify(context.Background(), path, upper, nil); err != nil {
		t.Fatalf("verify failed on uppercase digest: %v", err)
	}
}

func TestVerify_SingleByteMutationMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutated.img")
	content := []byte("image content that will be tampered with")
	sum := sha256.Sum256(content)
	expected := hex.EncodeToString(sum[:])

	// Flip one byte before writing.
	content[10] ^= 0x01
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	actual, err := Verify(context.Background(), path, expected, nil)
	var merr *ChecksumMismatchError
	if !errors.As(err, &merr) {
		t.Fatalf("expected ChecksumMismatchError, got %v", err)
	}
	if merr.Expected != expected {
		t.Errorf("Expected field = %s, want %s", merr.Expected, expected)
	}
	if merr.Actual == merr.Expected {
		t.Error("Actual should differ from Expected after mutation")
	}
	if actual != merr.Actual {
		t.Errorf("returned digest %s differs from error's Actual %s", actual, merr.Actual)
	}
	if len(merr.Actual) != 64 {
		t.Errorf("Actual digest length = %d, want 64 hex chars", len(merr.Actual))
	}
}

func TestSHA256_Cancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.img")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SHA256(ctx, path, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestOverallFraction(t *testing.T) {
	// Stage boundaries: finished download sits at its weight.
	if f := OverallFraction(StageDecompress, 0, 100); f != 0.45 {
		t.Errorf("decompress start fraction = %v, want 0.45", f)
	}
	// Mid-download scales within the download weight.
	if f := OverallFraction(StageDownload, 50, 100); f < 0.22 || f > 0.23 {
		t.Errorf("half download fraction = %v, want ~0.225", f)
	}
	// Flash completion reaches 1.0.
	if f := OverallFraction(StageFlash, 10, 10); f < 0.999 || f > 1.001 {
		t.Errorf("flash done fraction = %v, want 1.0", f)
	}
	// Unknown totals contribute nothing beyond completed stages.
	if f := OverallFraction(StageDownload, 1234, TotalUnknown); f != 0 {
		t.Errorf("unknown-total fraction = %v, want 0", f)
	}
}
