package db

// Schema defines the SQLite schema for install-attempt history.
// One row per install run, updated as the pipeline advances.
const Schema = `
CREATE TABLE IF NOT EXISTS installs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    serial TEXT NOT NULL,
    codename TEXT NOT NULL,
    distro TEXT NOT NULL,
    image_url TEXT NOT NULL,
    sha256 TEXT NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('pending', 'downloading', 'decompressing', 'verifying', 'flashing', 'ready', 'failed', 'cancelled')),
    stage TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_installs_serial ON installs(serial);
CREATE INDEX IF NOT EXISTS idx_installs_status ON installs(status);
CREATE INDEX IF NOT EXISTS idx_installs_created_at ON installs(created_at);
`

// Status constants
const (
	StatusPending       = "pending"
	StatusDownloading   = "downloading"
	StatusDecompressing = "decompressing"
	StatusVerifying     = "verifying"
	StatusFlashing      = "flashing"
	StatusReady         = "ready"
	StatusFailed        = "failed"
	StatusCancelled     = "cancelled"
)

// Install represents one install attempt record
type Install struct {
	ID           int64
	Serial       string
	Codename     string
	Distro       string
	ImageURL     string
	SHA256       string
	Status       string
	Stage        string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}
