package flashing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/droidflash/droidflash/pkg/errors"
)

// downloadChunk is the copy buffer size; cancellation latency is bounded
// by one chunk read.
const downloadChunk = 64 * 1024

// Downloader fetches OS images over HTTPS, or from S3-hosted mirrors
// when the source URL uses the s3:// scheme.
type Downloader struct {
	client   *http.Client
	s3Region string

	// lazily built on first s3:// source
	s3Client *s3.Client
}

// NewDownloader creates a downloader. s3Region is only consulted for
// s3:// sources.
func NewDownloader(s3Region string) *Downloader {
	return &Downloader{
		client:   &http.Client{},
		s3Region: s3Region,
	}
}

// Download streams rawURL to dest, reporting progress after every chunk.
// With resume true and a partial file already at dest, an HTTP Range
// request continues where the previous attempt stopped when the server
// honors it; otherwise the transfer restarts from zero.
//
// Cancellation (via ctx) stops within one chunk read and leaves the
// partial file in place so a later resumed attempt can continue.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string, resume bool, sink Sink) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, errors.Wrap(err, "invalid source URL")
	}

	if u.Scheme == "s3" {
		return d.downloadS3(ctx, u, dest, sink)
	}
	return d.downloadHTTP(ctx, rawURL, dest, resume, sink)
}

func (d *Downloader) downloadHTTP(ctx context.Context, rawURL, dest string, resume bool, sink Sink) (int64, error) {
	var offset int64
	if resume {
		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			offset = fi.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build request")
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	slog.Info("download_start", "url", rawURL, "dest", dest, "offset", offset)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "download request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		// Server honored the range; keep appending.
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// A range starting at the full object size is unsatisfiable, so
		// a previous attempt already downloaded everything. The 416
		// carries the object size in Content-Range ("bytes */N"); if it
		// disagrees with the file on disk the cache is stale.
		if size, ok := unsatisfiedRangeSize(resp.Header.Get("Content-Range")); ok && size != offset {
			slog.Warn("download_cache_stale", "url", rawURL, "cached", offset, "size", size)
			if err := os.Remove(dest); err != nil {
				return 0, errors.Wrap(err, "failed to discard stale file")
			}
			return d.downloadHTTP(ctx, rawURL, dest, false, sink)
		}
		slog.Info("download_already_complete", "url", rawURL, "bytes", offset)
		if sink != nil {
			sink(Event{
				Stage:      StageDownload,
				BytesDone:  offset,
				BytesTotal: offset,
				Fraction:   OverallFraction(StageDownload, offset, offset),
			})
		}
		return offset, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Full response; any partial file restarts from zero.
		offset = 0
	default:
		slog.Error("download_http_status", "url", rawURL, "status", resp.StatusCode)
		return 0, &HTTPStatusError{URL: rawURL, Status: resp.StatusCode}
	}

	total := TotalUnknown
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open destination file")
	}
	defer f.Close()

	written, err := copyChunked(ctx, f, resp.Body, offset, total, StageDownload, sink)
	if err != nil {
		// Partial file stays on disk for resume.
		return written, err
	}

	slog.Info("download_complete", "url", rawURL, "bytes", written)
	return written, nil
}

// unsatisfiedRangeSize parses the Content-Range header of a 416
// response ("bytes */N") into the object size.
func unsatisfiedRangeSize(header string) (int64, bool) {
	rest, ok := strings.CutPrefix(header, "bytes */")
	if !ok {
		return 0, false
	}
	size, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}

// downloadS3 fetches s3://bucket/key with anonymous credentials, the
// way public distro mirror buckets are exposed.
func (d *Downloader) downloadS3(ctx context.Context, u *url.URL, dest string, sink Sink) (int64, error) {
	if d.s3Client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(d.s3Region),
			awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
		)
		if err != nil {
			return 0, errors.Wrap(err, "failed to load AWS config")
		}
		d.s3Client = s3.NewFromConfig(cfg)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	slog.Info("download_s3_start", "bucket", bucket, "key", key, "dest", dest)

	result, err := d.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	total := TotalUnknown
	if result.ContentLength != nil {
		total = *result.ContentLength
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create destination file")
	}
	defer f.Close()

	written, err := copyChunked(ctx, f, result.Body, 0, total, StageDownload, sink)
	if err != nil {
		return written, err
	}

	slog.Info("download_s3_complete", "bucket", bucket, "key", key, "bytes", written)
	return written, nil
}

// DownloadChecksums fetches and parses a SHA256SUMS file
// ("hash  filename" per line, optional leading '*' on the filename).
func (d *Downloader) DownloadChecksums(ctx context.Context, rawURL string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "checksum download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checksum file")
	}

	return ParseChecksums(string(body)), nil
}

// ParseChecksums parses SHA256SUMS content into filename -> hex digest.
func ParseChecksums(body string) map[string]string {
	sums := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			name := strings.TrimPrefix(parts[1], "*")
			sums[name] = parts[0]
		}
	}
	return sums
}

// copyChunked copies src to dst in fixed-size chunks, emitting a
// progress event after each chunk and checking cancellation between
// chunks. offset pre-seeds BytesDone for resumed transfers.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, offset, total int64, stage Stage, sink Sink) (int64, error) {
	buf := make([]byte, downloadChunk)
	done := offset

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("transfer_cancelled", "stage", stage, "bytes_done", done)
			return done, ErrCancelled
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return done, errors.Wrap(werr, "write failed")
			}
			done += int64(n)
			if sink != nil {
				sink(Event{
					Stage:      stage,
					BytesDone:  done,
					BytesTotal: total,
					Fraction:   OverallFraction(stage, done, total),
				})
			}
		}
		if rerr == io.EOF {
			return done, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return done, ErrCancelled
			}
			return done, errors.Wrap(rerr, "read failed")
		}
	}
}
