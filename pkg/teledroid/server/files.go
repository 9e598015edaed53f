// files.go spools files exchanged between the chat side and device
// agents. Uploads land in a flat directory keyed by device, never at a
// client-chosen path.
package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// maxUploadSize caps a single file upload.
const maxUploadSize = 50 << 20 // 50 MB

// handleUploadFile implements POST /api/v1/files/upload: a device
// uploads file bytes as multipart form data under the "file" part.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request, device *store.Device) {
	if r.Method != http.MethodPost {
		s.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.writeError(w, "invalid multipart payload", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	// Only the base name survives; path components from the client
	// are dropped.
	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		s.writeError(w, "invalid file name", http.StatusBadRequest)
		return
	}

	uploadDir := s.cfg.UploadDir
	if uploadDir == "" {
		uploadDir = "./data/uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		s.logger.Error("creating upload dir failed", "dir", uploadDir, "error", err)
		s.writeError(w, "storing file failed", http.StatusInternalServerError)
		return
	}

	dst := filepath.Join(uploadDir, device.DeviceID+"_"+name)
	out, err := os.Create(dst)
	if err != nil {
		s.logger.Error("creating upload file failed", "path", dst, "error", err)
		s.writeError(w, "storing file failed", http.StatusInternalServerError)
		return
	}
	defer out.Close()

	size, err := io.Copy(out, file)
	if err != nil {
		os.Remove(dst)
		s.writeError(w, "storing file failed", http.StatusInternalServerError)
		return
	}

	s.logger.Info("file uploaded", "device_id", device.DeviceID, "file", name, "size", size)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"file_path": dst,
		"file_size": size,
	})
}
