package http

import (
	"net/http"

	"github.com/GriffinCanCode/termstack/internal/domain/palette"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
	"github.com/gin-gonic/gin"
)

// NameRequest carries a stack name
type NameRequest struct {
	Name string `json:"name"`
}

// TitleRequest carries a terminal title
type TitleRequest struct {
	Title string `json:"title"`
}

// ListStacks lists every stack with its running flags
func (h *Handlers) ListStacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stacks": h.orch.Summaries()})
}

// CreateStack creates an empty stack
func (h *Handlers) CreateStack(c *gin.Context) {
	var req NameRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	stack, err := h.orch.CreateStack(c.Request.Context(), req.Name)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, stack)
}

// GetStack returns a stack record
func (h *Handlers) GetStack(c *gin.Context) {
	p, ok := h.palette(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p.Record())
}

// RenameStack changes a stack's name
func (h *Handlers) RenameStack(c *gin.Context) {
	p, ok := h.palette(c)
	if !ok {
		return
	}

	var req NameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := p.Rename(req.Name); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, p.Summary())
}

// DeleteStack stops and removes a stack
func (h *Handlers) DeleteStack(c *gin.Context) {
	stackID := c.Param("id")
	if err := utils.ValidateID(stackID, "stack_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.DeleteStack(c.Request.Context(), stackID); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stack_id": stackID})
}

// ToggleStack starts a stopped stack through its scheduler or stops a
// running one
func (h *Handlers) ToggleStack(c *gin.Context) {
	stackID := c.Param("id")
	starting, err := h.orch.ToggleStack(stackID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stack_id": stackID, "starting": starting})
}

// CreateTerminal appends a terminal to a stack
func (h *Handlers) CreateTerminal(c *gin.Context) {
	var req TitleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	term, err := h.orch.CreateTerminal(c.Param("id"), req.Title)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, term)
}

// GetTerminal returns a terminal's state snapshot
func (h *Handlers) GetTerminal(c *gin.Context) {
	_, s, err := h.orch.Route(c.Param("id"), c.Param("tid"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, s.State())
}

// DeleteTerminal stops and removes a terminal
func (h *Handlers) DeleteTerminal(c *gin.Context) {
	stackID, terminalID := c.Param("id"), c.Param("tid")
	if err := h.orch.DeleteTerminal(stackID, terminalID); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "terminal_id": terminalID})
}

// ToggleTerminal starts or stops one terminal
func (h *Handlers) ToggleTerminal(c *gin.Context) {
	terminalID := c.Param("tid")
	running, err := h.orch.ToggleTerminal(c.Param("id"), terminalID)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminal_id": terminalID, "running": running})
}

func (h *Handlers) palette(c *gin.Context) (*palette.Palette, bool) {
	p, err := h.orch.Palette(c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return p, true
}
