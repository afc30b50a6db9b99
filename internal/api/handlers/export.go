package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/sirupsen/logrus"
)

// Exporter streams database dumps
type Exporter interface {
	WriteZip(ctx context.Context, w io.Writer, format string) error
}

// ExportHandler serves zip downloads of the store
type ExportHandler struct {
	exporter Exporter
	logger   *logrus.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exporter Exporter, logger *logrus.Logger) *ExportHandler {
	return &ExportHandler{
		exporter: exporter,
		logger:   logger,
	}
}

// ServeHTTP handles /api/export/{format}
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format, err := controllers.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := controllers.FileName(format, time.Now())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))

	// Headers are gone once the first byte is out; a failure can only be logged
	if err := h.exporter.WriteZip(r.Context(), w, format); err != nil {
		h.logger.WithError(err).WithField("format", format).Error("Export failed")
		return
	}
	h.logger.WithField("file", name).Info("Export served")
}
