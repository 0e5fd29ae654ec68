package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voxbridge/voxbridge/internal/models"
)

const defaultPageSize = 50

// listCalls returns call records, newest first.
func (h *Handlers) listCalls(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	var calls []models.Call
	if err := h.db.Order("id DESC").Limit(limit).Find(&calls).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, calls)
}

// getCall returns one call with any bridged children.
func (h *Handlers) getCall(c *gin.Context) {
	var call models.Call
	if err := h.db.Where("call_id = ?", c.Param("callId")).First(&call).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	var children []models.Call
	h.db.Where("parent_call_id = ?", call.ID).Find(&children)
	c.JSON(http.StatusOK, gin.H{"call": call, "bridged": children})
}

// listAgents returns configured agents.
func (h *Handlers) listAgents(c *gin.Context) {
	var agents []models.AgentConfig
	if err := h.db.Find(&agents).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, agents)
}

// createAgent stores a new agent configuration.
func (h *Handlers) createAgent(c *gin.Context) {
	var cfg models.AgentConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if cfg.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if err := h.db.Create(&cfg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cfg)
}
