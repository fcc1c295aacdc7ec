package flashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/droidflash/droidflash/pkg/errors"
)

// SHA256 streams a file through the digest and returns the hex string.
// Cancellation is observed between reads.
func SHA256(ctx context.Context, path string, sink Sink) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file for checksum")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(err, "failed to stat file for checksum")
	}
	total := fi.Size()

	hash := sha256.New()
	buf := make([]byte, downloadChunk)
	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return "", ErrCancelled
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
			done += int64(n)
			if sink != nil {
				sink(Event{
					Stage:      StageVerify,
					BytesDone:  done,
					BytesTotal: total,
					Fraction:   OverallFraction(StageVerify, done, total),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", errors.Wrap(rerr, "failed to read file for checksum")
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Verify computes the file's SHA-256, returns it, and compares it
// case-insensitively against the expected hex digest. A mismatch is
// always fatal for the run: a corrupted or tampered image must never
// reach the flash stage.
func Verify(ctx context.Context, path, expectedHex string, sink Sink) (string, error) {
	slog.Info("verify_start", "path", path)

	actual, err := SHA256(ctx, path, sink)
	if err != nil {
		return "", err
	}

	if !strings.EqualFold(actual, expectedHex) {
		slog.Error("checksum_mismatch", "path", path, "expected", expectedHex, "actual", actual)
		return actual, &ChecksumMismatchError{Path: path, Expected: expectedHex, Actual: actual}
	}

	slog.Info("verify_complete", "path", path, "sha256", actual)
	return actual, nil
}
