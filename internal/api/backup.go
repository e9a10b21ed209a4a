package api

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// @Title: List Backups
// @Route: GET /api/backups/list
// @Description: List all available database backups, newest first
// @Response: [{"name": "...", "created_at": "...", "size": ...}]
func (s *Service) HandleBackupsList(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.ListBackups()
	if err != nil {
		s.log.Error("list backups", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to read backups")
		return
	}
	s.writeJSON(w, http.StatusOK, backups)
}

// @Title: Create Backup
// @Route: POST /api/backups/create
// @Description: Write a backup of the ledger database into the backup directory
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	backupPath, err := s.backups.BackupCurrent(s.maxBackups)
	if err != nil {
		s.log.Error("create backup", zap.Error(err))
		s.feed.Error(fmt.Sprintf("Failed to create backup: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to save backup")
		return
	}

	s.feed.Info(fmt.Sprintf("API: Created backup at: %s", backupPath))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"path":   backupPath,
	})
}

// @Title: Download Database
// @Route: GET /api/backups/download
// @Description: Download a consistent copy of the ledger database
// @Response: application/vnd.sqlite3 file download
func (s *Service) HandleDownloadBackup(w http.ResponseWriter, r *http.Request) {
	data, err := s.backups.ExportSnapshot()
	if err != nil {
		s.log.Error("export snapshot", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to export database")
		return
	}

	filename := fmt.Sprintf("bmc-ledger-%s.db", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Write(data)
	s.feed.Info(fmt.Sprintf("API: Served database download: %s", filename))
}
