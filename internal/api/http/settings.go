package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SettingRequest carries a new setting value
type SettingRequest struct {
	Value interface{} `json:"value"`
}

// ListSettings lists settings, optionally filtered by ?category=
func (h *Handlers) ListSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"settings":   h.settings.List(c.Query("category")),
		"categories": h.settings.Categories(),
	})
}

// GetSetting returns one setting
func (h *Handlers) GetSetting(c *gin.Context) {
	key := c.Param("key")
	setting, ok := h.settings.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown setting: " + key})
		return
	}
	c.JSON(http.StatusOK, setting)
}

// SetSetting stores a setting value
func (h *Handlers) SetSetting(c *gin.Context) {
	var req SettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}

	setting, err := h.settings.Set(c.Param("key"), req.Value)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}

// ResetSetting restores a setting's default
func (h *Handlers) ResetSetting(c *gin.Context) {
	setting, err := h.settings.Reset(c.Param("key"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, setting)
}
