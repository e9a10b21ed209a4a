package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrBackupNotFound is returned by RestoreBackup for an unknown backup name.
var ErrBackupNotFound = errors.New("backup not found")

// Backup describes one timestamped database copy in the backup directory.
type Backup struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupDir returns the directory holding database backups.
func (s *Store) BackupDir() string {
	return s.backupDir
}

// backupPrefix splits the database file name into the prefix and extension
// shared by all of its backups: ledger.db backs up to ledger-<unix>.db.
func (s *Store) backupPrefix() (string, string) {
	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return prefix, ext
}

// ListBackups returns the available backups, newest first.
func (s *Store) ListBackups() ([]Backup, error) {
	prefix, ext := s.backupPrefix()
	infos, err := scanBackups(s.backupDir, prefix, ext)
	if err != nil {
		return nil, err
	}

	backups := make([]Backup, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		st, err := os.Stat(infos[i].path)
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Name:      filepath.Base(infos[i].path),
			Size:      st.Size(),
			CreatedAt: time.Unix(infos[i].timestamp, 0).UTC(),
		})
	}
	return backups, nil
}

// RestoreBackup replaces the live database with the named backup. The
// database being replaced is itself kept as a new backup.
func (s *Store) RestoreBackup(name string, maxBackups int) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", ErrBackupNotFound
	}
	prefix, ext := s.backupPrefix()
	if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ext) {
		return "", ErrBackupNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.backupDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrBackupNotFound
		}
		return "", errors.Wrap(err, "read backup")
	}
	return s.ImportSnapshot(data, maxBackups)
}

func (s *Store) restoreLatestBackup() error {
	prefix, ext := s.backupPrefix()
	backups, err := scanBackups(s.backupDir, prefix, ext)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return errors.Wrapf(err, "copy backup %s", filepath.Base(latest.path))
	}
	return s.openDB()
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes old backups beyond maxBackups. Returns the backup path when created.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", errors.Wrap(err, "ensure backup directory")
	}

	backupPath := uniqueBackupPath(s.backupDir, filepath.Base(s.file))
	if err := os.WriteFile(backupPath, snapshot, 0o600); err != nil {
		return "", errors.Wrap(err, "write backup")
	}

	prefix, ext := s.backupPrefix()
	pruneBackups(s.backupDir, prefix, ext, maxBackups)

	return backupPath, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.file), "ledger-export-*.db")
	if err != nil {
		return nil, errors.Wrap(err, "create temp export file")
	}
	tempPath := tempFile.Name()
	tempFile.Close()

	escaped := strings.ReplaceAll(tempPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(tempPath)
		return nil, errors.Wrap(err, "vacuum into temp file")
	}

	data, err := os.ReadFile(tempPath)
	os.Remove(tempPath)
	if err != nil {
		return nil, errors.Wrap(err, "read export file")
	}

	return data, nil
}

// ImportSnapshot replaces the current database contents with the provided
// SQLite database bytes. Returns the backup path if the existing database was
// moved aside.
func (s *Store) ImportSnapshot(data []byte, maxBackups int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("snapshot data is empty")
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	dir := filepath.Dir(s.file)
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", errors.Wrap(err, "prepare backup directory")
	}

	tempFile, err := os.CreateTemp(dir, "ledger-import-*.db")
	if err != nil {
		return "", errors.Wrap(err, "create temp import file")
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", errors.Wrap(err, "write temp import file")
	}
	tempFile.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.closeDB()

	var backupPath string
	if _, err := os.Stat(s.file); err == nil {
		backupPath = uniqueBackupPath(s.backupDir, filepath.Base(s.file))
		if err := os.Rename(s.file, backupPath); err != nil {
			_ = s.openDB()
			os.Remove(tempPath)
			return "", errors.Wrap(err, "rename existing db")
		}
		s.removeSidecarFilesLocked()
	}

	if err := os.Rename(tempPath, s.file); err != nil {
		if backupPath != "" {
			_ = os.Rename(backupPath, s.file)
		}
		os.Remove(tempPath)
		_ = s.openDB()
		return "", errors.Wrap(err, "activate imported db")
	}

	if err := s.openDB(); err != nil {
		s.rollbackImportLocked(backupPath)
		return "", errors.Wrap(err, "reopen db after import")
	}

	if err := s.ensureSchema(); err != nil {
		s.rollbackImportLocked(backupPath)
		return "", err
	}

	prefix, ext := s.backupPrefix()
	pruneBackups(s.backupDir, prefix, ext, maxBackups)

	s.notify()
	return backupPath, nil
}

// rollbackImportLocked puts the previous database back after a failed import.
func (s *Store) rollbackImportLocked(backupPath string) {
	_ = s.closeDB()
	if backupPath == "" {
		_ = os.Remove(s.file)
	} else {
		_ = os.Rename(backupPath, s.file)
	}
	s.removeSidecarFilesLocked()
	if err := s.openDB(); err == nil {
		_ = s.ensureSchema()
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func uniqueBackupPath(dir, base string) string {
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}

	timestamp := time.Now().Unix()
	for {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		timestamp++
	}
}

// scanBackups lists prefix-<unix><ext> files in dir, oldest first. Files
// whose stamp does not parse fall back to their modification time.
func scanBackups(dir, prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read backup directory")
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}

		stamp := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		ts, parseErr := strconv.ParseInt(stamp, 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}

		backups = append(backups, backupInfo{
			path:      filepath.Join(dir, name),
			timestamp: ts,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})

	return backups, nil
}

func pruneBackups(dir, prefix, ext string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	backups, err := scanBackups(dir, prefix, ext)
	if err != nil || len(backups) <= maxBackups {
		return
	}

	for i := 0; i < len(backups)-maxBackups; i++ {
		_ = os.Remove(backups[i].path)
	}
}
