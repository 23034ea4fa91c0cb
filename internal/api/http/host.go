package http

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"

	"github.com/GriffinCanCode/termstack/internal/shared/paths"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Opener reveals a path in the host's file browser
type Opener func(path string) error

// PathRequest carries a filesystem path
type PathRequest struct {
	Path string `json:"path"`
}

// ExportRequest names the export target and, optionally, glob patterns
// selecting stacks by name
type ExportRequest struct {
	Path   string   `json:"path"`
	Stacks []string `json:"stacks,omitempty"`
}

// OpenInFileBrowser launches the platform file browser on path without
// waiting for it to exit
func OpenInFileBrowser(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// Open reveals a directory in the file browser
func (h *Handlers) Open(c *gin.Context) {
	path, ok := bindPath(c)
	if !ok {
		return
	}
	path, err := paths.Expand(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("path does not exist: %s", path)})
		return
	}

	if err := h.open(path); err != nil {
		h.logger.Warn("Failed to open path", zap.String("path", path), zap.Error(err))
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

// Export writes the sanitized state to path. The format follows the file
// extension: .json, .yaml/.yml or .toml, optionally with .gz or .zst.
// Relative paths land in the data dir's export directory.
func (h *Handlers) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidatePath(req.Path, "path", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	path, err := h.resolveExport(req.Path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.Export(c.Request.Context(), path, req.Stacks...); err != nil {
		h.logger.Error("Export failed", zap.String("path", path), zap.Error(err))
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

func (h *Handlers) resolveExport(path string) (string, error) {
	if h.layout.Root == "" {
		return paths.Expand(path)
	}
	return h.layout.ResolveExport(path)
}

func bindPath(c *gin.Context) (string, bool) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	if err := utils.ValidatePath(req.Path, "path", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return req.Path, true
}
