package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/droidflash/droidflash/pkg/errors"
)

// Repository provides database operations for install history
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the history database at dbPath
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	slog.Info("database_create_schema", "db_path", dbPath)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new install record
func (r *Repository) Create(in *Install) error {
	slog.Info("database_create_install", "serial", in.Serial, "distro", in.Distro, "status", in.Status)

	query := `
		INSERT INTO installs (serial, codename, distro, image_url, sha256, status, stage, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		in.Serial, in.Codename, in.Distro, in.ImageURL, in.SHA256,
		in.Status, in.Stage, in.ErrorMessage)
	if err != nil {
		slog.Error("database_insert_failed", "serial", in.Serial, "error", err)
		return errors.Wrap(err, "failed to insert install")
	}

	id, err := result.LastInsertId()
	if err != nil {
		slog.Error("database_last_insert_id_failed", "serial", in.Serial, "error", err)
		return errors.Wrap(err, "failed to get last insert id")
	}
	in.ID = id

	slog.Info("database_install_created", "install_id", in.ID, "serial", in.Serial, "status", in.Status)
	return nil
}

// GetByID retrieves an install record by ID. Returns (nil, nil) when the
// row does not exist.
func (r *Repository) GetByID(id int64) (*Install, error) {
	query := `
		SELECT id, serial, codename, distro, image_url, sha256, status,
		       stage, error_message, created_at, updated_at
		FROM installs WHERE id = ?
	`
	var in Install
	var stage, errorMessage sql.NullString

	err := r.db.QueryRow(query, id).Scan(
		&in.ID, &in.Serial, &in.Codename, &in.Distro, &in.ImageURL, &in.SHA256,
		&in.Status, &stage, &errorMessage, &in.CreatedAt, &in.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Info("database_install_not_found", "install_id", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "install_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query install")
	}

	in.Stage = stage.String
	in.ErrorMessage = errorMessage.String
	return &in, nil
}

// UpdateStatus updates the status, current stage and error message
func (r *Repository) UpdateStatus(id int64, status, stage, errorMessage string) error {
	slog.Info("database_update_status", "install_id", id, "status", status, "stage", stage)

	query := `UPDATE installs SET status = ?, stage = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	result, err := r.db.Exec(query, status, stage, errorMessage, id)
	if err != nil {
		slog.Error("database_status_update_failed", "install_id", id, "status", status, "error", err)
		return errors.Wrap(err, "failed to update status")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_install_not_found_for_update", "install_id", id)
		return fmt.Errorf("install not found: id=%d", id)
	}
	return nil
}

// List retrieves all install records, newest first
func (r *Repository) List() ([]*Install, error) {
	query := `
		SELECT id, serial, codename, distro, image_url, sha256, status,
		       stage, error_message, created_at, updated_at
		FROM installs ORDER BY created_at DESC, id DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list installs")
	}
	defer rows.Close()

	var installs []*Install
	for rows.Next() {
		var in Install
		var stage, errorMessage sql.NullString

		err := rows.Scan(
			&in.ID, &in.Serial, &in.Codename, &in.Distro, &in.ImageURL, &in.SHA256,
			&in.Status, &stage, &errorMessage, &in.CreatedAt, &in.UpdatedAt)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}

		in.Stage = stage.String
		in.ErrorMessage = errorMessage.String
		installs = append(installs, &in)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Info("database_list_complete", "install_count", len(installs))
	return installs, nil
}

// Delete deletes an install record by ID
func (r *Repository) Delete(id int64) error {
	slog.Info("database_delete_install", "install_id", id)

	query := `DELETE FROM installs WHERE id = ?`
	if _, err := r.db.Exec(query, id); err != nil {
		slog.Error("database_delete_failed", "install_id", id, "error", err)
		return errors.Wrap(err, "failed to delete install")
	}
	return nil
}

// PurgeOlderThan deletes terminal records older than the given number of
// days and returns how many were removed. In-flight rows are kept.
func (r *Repository) PurgeOlderThan(days int) (int64, error) {
	slog.Info("database_purge", "days", days)

	query := `
		DELETE FROM installs
		WHERE status IN ('ready', 'failed', 'cancelled')
		  AND created_at < datetime('now', ?)
	`
	result, err := r.db.Exec(query, fmt.Sprintf("-%d days", days))
	if err != nil {
		slog.Error("database_purge_failed", "error", err)
		return 0, errors.Wrap(err, "failed to purge installs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	slog.Info("database_purge_complete", "deleted", rows)
	return rows, nil
}
