package export

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Sink delivers a produced file and returns where it went
type Sink interface {
	Deliver(file *File) (string, error)
}

// DirSink writes files into a directory
type DirSink struct {
	Dir string
}

// Deliver writes file under the sink directory, creating it when missing
func (d DirSink) Deliver(file *File) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, file.Name)
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	log.Info().Str("path", path).Int("rows", file.Rows).Bool("truncated", file.Truncated).Msg("export written")
	return path, nil
}

// TruncatedHeader flags an attachment that stopped at the ceiling
const TruncatedHeader = "X-Export-Truncated"

// HTTPSink streams files as CSV attachments
type HTTPSink struct {
	W http.ResponseWriter
}

// Deliver writes file as the response body
func (h HTTPSink) Deliver(file *File) (string, error) {
	header := h.W.Header()
	header.Set("Content-Type", "text/csv; charset=utf-8")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	header.Set(TruncatedHeader, strconv.FormatBool(file.Truncated))
	header.Set("Content-Length", strconv.Itoa(len(file.Data)))
	h.W.WriteHeader(http.StatusOK)

	if _, err := h.W.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write export response: %w", err)
	}
	return file.Name, nil
}
