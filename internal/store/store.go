// Package store persists uploaded payroll tables and processing results in
// SQLite. Each stored file keeps its metadata in data_files and its records
// as JSON rows in data_values.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// ErrNotFound is returned when no stored file matches the lookup.
var ErrNotFound = errors.New("stored file not found")

// StoredFile is the metadata of one persisted table.
type StoredFile struct {
	ID           int64
	FileName     string
	FilePath     string
	Definition   string
	OriginalName string
	FileType     string
	UploadDate   time.Time
	Columns      []string
	DTypes       map[string]string
	RowCount     int
	TaskName     string
	Output       bool
}

// SaveRequest carries a frame and its upload metadata.
type SaveRequest struct {
	Frame        *tabular.Frame
	FileName     string
	FilePath     string
	OriginalName string
	Definition   string
	TaskName     string
	Output       bool
}

type columnInfo struct {
	Columns []string          `json:"columns"`
	DTypes  map[string]string `json:"dtypes"`
}

// Store handles SQLite operations for uploaded tables
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// NewStore opens (creating if needed) the database at dbPath
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath, log: logger.Global().WithPrefix("store")}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS data_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_name TEXT NOT NULL,
		file_path TEXT,
		definition TEXT NOT NULL,
		original_name TEXT,
		file_type TEXT,
		upload_date DATETIME NOT NULL,
		column_info TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		task_name TEXT,
		output BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS data_values (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL,
		definition TEXT,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (file_id) REFERENCES data_files(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_data_files_definition ON data_files(definition);
	CREATE INDEX IF NOT EXISTS idx_data_files_task ON data_files(task_name);
	CREATE INDEX IF NOT EXISTS idx_data_values_file_id ON data_values(file_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}
	return nil
}

// Save persists a frame and returns the new file ID. Rows are inserted in
// chunks so large ledgers do not build one giant statement.
func (s *Store) Save(req SaveRequest) (int64, error) {
	if req.Frame == nil {
		return 0, errors.New("frame cannot be nil")
	}

	info := columnInfo{Columns: req.Frame.Columns, DTypes: req.Frame.DTypes()}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return 0, fmt.Errorf("failed to encode column info: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO data_files (file_name, file_path, definition, original_name, file_type, upload_date, column_info, row_count, task_name, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.FileName, req.FilePath, req.Definition, req.OriginalName,
		fileType(req.OriginalName), time.Now(), string(infoJSON),
		req.Frame.RowCount(), req.TaskName, req.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file metadata: %w", err)
	}

	fileID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO data_values (file_id, definition, data) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, row := range req.Frame.Rows {
		rowJSON, err := json.Marshal(row)
		if err != nil {
			return 0, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
		if _, err := stmt.Exec(fileID, req.Definition, string(rowJSON)); err != nil {
			return 0, fmt.Errorf("failed to insert row %d: %w", i, err)
		}
		if (i+1)%consts.StoreChunkRows == 0 {
			s.log.Debug("inserted %d/%d rows of %s", i+1, req.Frame.RowCount(), req.FileName)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.log.Info("saved file %s (definition=%s, rows=%d, id=%d)",
		req.FileName, req.Definition, req.Frame.RowCount(), fileID)
	return fileID, nil
}

func fileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return "csv"
	}
	return ext
}

// LoadByID rebuilds a stored frame from its file ID.
func (s *Store) LoadByID(fileID int64) (*tabular.Frame, error) {
	meta, err := s.fileByID(fileID)
	if err != nil {
		return nil, err
	}
	return s.loadRows(meta)
}

// LoadByDefinition rebuilds the most recently uploaded frame with the given
// definition. Column order is restored from the stored column info.
func (s *Store) LoadByDefinition(definition string) (*tabular.Frame, error) {
	meta, err := s.latestByDefinition(definition)
	if err != nil {
		return nil, err
	}
	return s.loadRows(meta)
}

func (s *Store) loadRows(meta *StoredFile) (*tabular.Frame, error) {
	rows, err := s.db.Query(`SELECT data FROM data_values WHERE file_id = ? ORDER BY id`, meta.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	frame := tabular.New(meta.Columns)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(data), &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode stored row of file %d: %w", meta.ID, err)
		}
		frame.AppendRow(tabular.RowFromAny(decoded))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frame.Select(meta.Columns), nil
}

// ExistsDefinition reports whether a file with the definition is stored.
func (s *Store) ExistsDefinition(definition string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM data_files WHERE definition = ?`, definition).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

const fileColumns = `id, file_name, file_path, definition, original_name, file_type, upload_date, column_info, row_count, task_name, output`

func scanFile(scanner interface{ Scan(...any) error }) (*StoredFile, error) {
	var f StoredFile
	var filePath, originalName, fType, taskName sql.NullString
	var info string

	err := scanner.Scan(&f.ID, &f.FileName, &filePath, &f.Definition, &originalName,
		&fType, &f.UploadDate, &info, &f.RowCount, &taskName, &f.Output)
	if err != nil {
		return nil, err
	}

	f.FilePath = filePath.String
	f.OriginalName = originalName.String
	f.FileType = fType.String
	f.TaskName = taskName.String

	var ci columnInfo
	if err := json.Unmarshal([]byte(info), &ci); err != nil {
		return nil, fmt.Errorf("failed to decode column info of file %d: %w", f.ID, err)
	}
	f.Columns = ci.Columns
	f.DTypes = ci.DTypes

	return &f, nil
}

func (s *Store) fileByID(fileID int64) (*StoredFile, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM data_files WHERE id = ?`, fileID)
	meta, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file id %d: %w", fileID, ErrNotFound)
	}
	return meta, err
}

func (s *Store) latestByDefinition(definition string) (*StoredFile, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM data_files WHERE definition = ? ORDER BY id DESC LIMIT 1`, definition)
	meta, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %s: %w", definition, ErrNotFound)
	}
	return meta, err
}

// File returns the metadata for one stored file.
func (s *Store) File(fileID int64) (*StoredFile, error) {
	return s.fileByID(fileID)
}

// List returns metadata for all stored files in upload order.
func (s *Store) List() ([]*StoredFile, error) {
	return s.queryFiles(`SELECT ` + fileColumns + ` FROM data_files ORDER BY id`)
}

// ListByTask returns metadata for all files tied to a task.
func (s *Store) ListByTask(taskName string) ([]*StoredFile, error) {
	return s.queryFiles(`SELECT `+fileColumns+` FROM data_files WHERE task_name = ? ORDER BY id`, taskName)
}

func (s *Store) queryFiles(query string, args ...any) ([]*StoredFile, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// Delete removes a stored file and its rows.
func (s *Store) Delete(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM data_values WHERE file_id = ?`, fileID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM data_files WHERE id = ?`, fileID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteByTask removes all files tied to a task and returns how many.
func (s *Store) DeleteByTask(taskName string) (int, error) {
	files, err := s.ListByTask(taskName)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := s.Delete(f.ID); err != nil {
			return 0, err
		}
	}
	s.log.Info("deleted %d files of task %s", len(files), taskName)
	return len(files), nil
}

// DeleteAll wipes every stored file, as when the user starts a new chat.
func (s *Store) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM data_values`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM data_files`); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Warn("all stored files deleted")
	return nil
}

// DeleteOlderThan removes files uploaded more than the given number of days
// ago and returns how many were removed.
func (s *Store) DeleteOlderThan(days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	files, err := s.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, f := range files {
		if f.UploadDate.Before(cutoff) {
			if err := s.Delete(f.ID); err != nil {
				return deleted, err
			}
			deleted++
		}
	}

	if deleted > 0 {
		s.log.Info("deleted %d files older than %d days", deleted, days)
	}
	return deleted, nil
}
