package pipeline

import "github.com/droidflash/droidflash/pkg/flashing"

// InstallRequest is the FSM input
type InstallRequest struct {
	InstallID   int64
	Serial      string
	Codename    string
	DistroID    string
	ImageURL    string
	SHA256      string
	Compression flashing.Compression
}

// InstallResponse is the FSM output (accumulated across transitions)
type InstallResponse struct {
	// From Download
	ArchivePath  string
	DownloadSize int64

	// From Decompress
	ImagePath string

	// From Verify
	SHA256Expected string
	SHA256Actual   string

	// From Flash
	FlashedSteps int

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateDownload   = "download"
	StateDecompress = "decompress"
	StateVerify     = "verify"
	StateFlash      = "flash"
	StateComplete   = "complete"
	StateFailed     = "failed"
)
