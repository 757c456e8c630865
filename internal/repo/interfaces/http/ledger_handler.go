package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListAccruals(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	records, err := h.queries.ListAccruals(c.Request.Context(), actor.OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accruals": records})
}

func (h *Handler) ListLedgerEntries(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	entries, err := h.queries.ListLedgerEntries(c.Request.Context(), actor.OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type ReverseLedgerEntryReq struct {
	Remark string `json:"remark" binding:"required"`
}

func (h *Handler) ReverseLedgerEntry(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req ReverseLedgerEntryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reversalID, err := h.commands.ReverseLedgerEntry(c.Request.Context(), actor, c.Param("id"), req.Remark)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reversal_entry_id": reversalID})
}
