package flashing

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/ulikunitz/xz"
)

// countingReader tracks the compressed-stream position so progress can
// be reported against the known compressed size; the decompressed total
// is generally unknown up front and is never assumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Decompress streams src through the selected decoder into dest.
// Progress events report compressed bytes consumed versus the compressed
// file size. Cancellation aborts within one buffer read and deletes the
// partial output: a partially decompressed image is never usable.
func Decompress(ctx context.Context, src, dest string, kind Compression, sink Sink) error {
	slog.Info("decompress_start", "src", src, "dest", dest, "kind", kind)

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "failed to open compressed image")
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat compressed image")
	}
	total := fi.Size()

	counter := &countingReader{r: bufio.NewReaderSize(in, downloadChunk)}

	var decoder io.Reader
	switch kind {
	case CompressionGzip:
		gz, err := gzip.NewReader(counter)
		if err != nil {
			return &CorruptArchiveError{Path: src, Err: err}
		}
		defer gz.Close()
		decoder = gz
	case CompressionXz:
		xr, err := xz.NewReader(counter)
		if err != nil {
			return &CorruptArchiveError{Path: src, Err: err}
		}
		decoder = xr
	case CompressionNone:
		// Caller should skip the stage entirely; copying through keeps
		// the contract if it doesn't.
		decoder = counter
	default:
		return fmt.Errorf("unsupported compression kind %q", kind)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "failed to create decompressed image")
	}

	buf := make([]byte, downloadChunk)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(dest)
			slog.Info("decompress_cancelled", "dest", dest, "bytes_written", written)
			return ErrCancelled
		}

		n, rerr := decoder.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(dest)
				return errors.Wrap(werr, "failed to write decompressed data")
			}
			written += int64(n)
			if sink != nil {
				sink(Event{
					Stage:      StageDecompress,
					BytesDone:  counter.n,
					BytesTotal: total,
					Fraction:   OverallFraction(StageDecompress, counter.n, total),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(dest)
			if ctx.Err() != nil {
				return ErrCancelled
			}
			return &CorruptArchiveError{Path: src, Err: rerr}
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return errors.Wrap(err, "failed to finalize decompressed image")
	}

	slog.Info("decompress_complete", "dest", dest, "compressed_bytes", counter.n, "decompressed_bytes", written)
	return nil
}
