// Package pipeline implements the install workflow as a finite state
// machine: download, decompress, verify, flash. State is persisted by the
// superfly/fsm manager so an interrupted run can resume after a crash.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/superfly/fsm"

	"github.com/droidflash/droidflash/pkg/db"
	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/flashing"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	repo       *db.Repository
	downloader *flashing.Downloader
	executor   *flashing.Executor
	workDir    string
	maxRetries int
	resume     bool

	run *Run
}

// NewMachine creates a new pipeline machine with dependencies
func NewMachine(
	repo *db.Repository,
	downloader *flashing.Downloader,
	executor *flashing.Executor,
	workDir string,
	maxRetries int,
	resume bool,
) *Machine {
	return &Machine{
		repo:       repo,
		downloader: downloader,
		executor:   executor,
		workDir:    workDir,
		maxRetries: maxRetries,
		resume:     resume,
	}
}

// Bind attaches the live run the handlers operate on. Must be called
// before the FSM is started.
func (m *Machine) Bind(run *Run) {
	m.run = run
}

// Register registers the install FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[InstallRequest, InstallResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[InstallRequest, InstallResponse](manager, "os-install").
		Start(StateDownload, m.handleDownload).
		To(StateDecompress, m.handleDecompress).
		To(StateVerify, m.handleVerify).
		To(StateFlash, m.handleFlash).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// enter runs the common preamble of every handler: retry guard, run
// binding, cancellation, strict stage ordering, history status.
func (m *Machine) enter(ctx context.Context, stage flashing.Stage, dbStatus string) (*Run, error) {
	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "stage", stage, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}
	run := m.run
	if run == nil {
		return nil, fsm.Abort(fmt.Errorf("no run bound to machine"))
	}
	if run.Cancelled() {
		return nil, m.fail(run, stage, flashing.ErrCancelled)
	}
	if err := run.startStage(stage); err != nil {
		slog.Error("stage_order_violation", "stage", stage, "error", err)
		return nil, m.fail(run, stage, err)
	}
	if err := m.repo.UpdateStatus(run.InstallID(), dbStatus, string(stage), ""); err != nil {
		return nil, errors.Wrap(err, "failed to update status")
	}
	return run, nil
}

// fail records a stage failure, marks the run terminal, and aborts the
// FSM. Cancellation is recorded as cancelled rather than failed.
func (m *Machine) fail(run *Run, stage flashing.Stage, err error) error {
	dbStatus := db.StatusFailed
	status := flashing.StatusFailed
	if stderrors.Is(err, flashing.ErrCancelled) || run.Cancelled() {
		dbStatus = db.StatusCancelled
		status = flashing.StatusCancelled
	}
	run.finishStage(stage, status)
	run.finish(status)
	if uerr := m.repo.UpdateStatus(run.InstallID(), dbStatus, string(stage), err.Error()); uerr != nil {
		slog.Error("status_update_failed", "install_id", run.InstallID(), "error", uerr)
	}
	slog.Error("pipeline_stage_failed", "stage", stage, "status", dbStatus, "error", err)
	return fsm.Abort(err)
}

// handleDownload fetches the image archive into the work directory
func (m *Machine) handleDownload(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("pipeline_state_download", "serial", req.Msg.Serial, "image_url", req.Msg.ImageURL)

	run, err := m.enter(ctx, flashing.StageDownload, db.StatusDownloading)
	if err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	downloadDir := filepath.Join(m.workDir, "downloads")
	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		slog.Error("download_dir_creation_failed", "path", downloadDir, "error", err)
		return nil, errors.Wrap(err, "failed to create download dir")
	}

	dest := filepath.Join(downloadDir, filenameFromURL(req.Msg.ImageURL))
	size, err := m.downloader.Download(run.Context(), req.Msg.ImageURL, dest, m.resume, run.Sink())
	if err != nil {
		return nil, m.fail(run, flashing.StageDownload, err)
	}
	run.finishStage(flashing.StageDownload, flashing.StatusSucceeded)

	slog.Info("download_complete", "image_url", req.Msg.ImageURL, "size_mb", size/1024/1024, "path", dest)

	resp.ArchivePath = dest
	resp.DownloadSize = size
	return fsm.NewResponse(resp), nil
}

// handleDecompress unpacks the archive into the flashable image
func (m *Machine) handleDecompress(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("pipeline_state_decompress", "serial", req.Msg.Serial, "compression", req.Msg.Compression)

	run, err := m.enter(ctx, flashing.StageDecompress, db.StatusDecompressing)
	if err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	kind := req.Msg.Compression
	if kind == "" {
		kind = flashing.CompressionForName(resp.ArchivePath)
	}

	if kind == flashing.CompressionNone {
		resp.ImagePath = resp.ArchivePath
		run.finishStage(flashing.StageDecompress, flashing.StatusSucceeded)
		slog.Info("decompress_skipped", "path", resp.ArchivePath)
		return fsm.NewResponse(resp), nil
	}

	dest := decompressedPath(resp.ArchivePath)
	if err := flashing.Decompress(run.Context(), resp.ArchivePath, dest, kind, run.Sink()); err != nil {
		return nil, m.fail(run, flashing.StageDecompress, err)
	}
	run.finishStage(flashing.StageDecompress, flashing.StatusSucceeded)

	slog.Info("decompress_complete", "archive", resp.ArchivePath, "image", dest)

	resp.ImagePath = dest
	return fsm.NewResponse(resp), nil
}

// handleVerify checks the image digest against the expected checksum
func (m *Machine) handleVerify(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("pipeline_state_verify", "serial", req.Msg.Serial)

	run, err := m.enter(ctx, flashing.StageVerify, db.StatusVerifying)
	if err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	expected := req.Msg.SHA256
	if expected == "" && run.Config() != nil && run.Config().ChecksumURL != "" {
		sums, err := m.downloader.DownloadChecksums(run.Context(), run.Config().ChecksumURL)
		if err != nil {
			return nil, m.fail(run, flashing.StageVerify, err)
		}
		expected = sums[filepath.Base(resp.ImagePath)]
	}
	if expected == "" {
		return nil, m.fail(run, flashing.StageVerify, fmt.Errorf("no expected checksum for %s", filepath.Base(resp.ImagePath)))
	}
	resp.SHA256Expected = expected

	actual, err := flashing.Verify(run.Context(), resp.ImagePath, expected, run.Sink())
	resp.SHA256Actual = actual
	if err != nil {
		return nil, m.fail(run, flashing.StageVerify, err)
	}
	run.finishStage(flashing.StageVerify, flashing.StatusSucceeded)

	return fsm.NewResponse(resp), nil
}

// handleFlash interprets the step list against the device
func (m *Machine) handleFlash(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("pipeline_state_flash", "serial", req.Msg.Serial)

	run, err := m.enter(ctx, flashing.StageFlash, db.StatusFlashing)
	if err != nil {
		return nil, err
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	cfg := run.Config()
	if cfg == nil {
		return nil, fsm.Abort(fmt.Errorf("run has no install plan"))
	}

	imagesDir := filepath.Dir(resp.ImagePath)
	if err := m.executor.Run(run.Context(), req.Msg.Serial, cfg.Steps, imagesDir, resp.ImagePath, run.Sink()); err != nil {
		return nil, m.fail(run, flashing.StageFlash, err)
	}
	run.finishStage(flashing.StageFlash, flashing.StatusSucceeded)

	slog.Info("flash_complete", "serial", req.Msg.Serial, "steps", len(cfg.Steps))

	resp.FlashedSteps = len(cfg.Steps)
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the install ready
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[InstallRequest, InstallResponse]) (*fsm.Response[InstallResponse], error) {
	slog.Info("pipeline_state_complete", "serial", req.Msg.Serial)

	run := m.run
	if run == nil {
		return nil, fsm.Abort(fmt.Errorf("no run bound to machine"))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &InstallResponse{}
	}

	if err := m.repo.UpdateStatus(run.InstallID(), db.StatusReady, "", ""); err != nil {
		slog.Error("status_update_failed", "install_id", run.InstallID(), "error", err)
		return nil, errors.Wrap(err, "failed to update status")
	}
	resp.Status = db.StatusReady
	run.finish(flashing.StatusSucceeded)

	slog.Info("pipeline_complete", "serial", req.Msg.Serial, "install_id", run.InstallID())
	return fsm.NewResponse(resp), nil
}

func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return "image"
	}
	return path.Base(u.Path)
}

// decompressedPath strips the compression suffix, falling back to an
// .img sibling when there is none to strip.
func decompressedPath(archive string) string {
	switch flashing.CompressionForName(archive) {
	case flashing.CompressionGzip, flashing.CompressionXz:
		return archive[:len(archive)-len(filepath.Ext(archive))]
	default:
		return archive + ".img"
	}
}
