package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/repotrading/internal/repo/application"
)

type AddCollateralReq struct {
	AllocationID  string `json:"allocation_id" binding:"required"`
	SecurityID    string `json:"security_id" binding:"required"`
	FaceValue     string `json:"face_value" binding:"required"`
	DirtyPrice    string `json:"dirty_price" binding:"required"`
	CleanPrice    string `json:"clean_price"`
	Haircut       string `json:"haircut" binding:"required"`
	ValuationDate string `json:"valuation_date" binding:"required"`
	Reference     string `json:"reference"`
}

func (h *Handler) buildAddCollateralCommand(c *gin.Context, req AddCollateralReq) (application.AddCollateralCommand, bool) {
	faceValue, ok := parseDecimal(c, "face_value", req.FaceValue)
	if !ok {
		return application.AddCollateralCommand{}, false
	}
	dirtyPrice, ok := parseDecimal(c, "dirty_price", req.DirtyPrice)
	if !ok {
		return application.AddCollateralCommand{}, false
	}
	haircut, ok := parseDecimal(c, "haircut", req.Haircut)
	if !ok {
		return application.AddCollateralCommand{}, false
	}
	valuationDate, ok := parseDate(c, "valuation_date", req.ValuationDate)
	if !ok {
		return application.AddCollateralCommand{}, false
	}

	cmd := application.AddCollateralCommand{
		AllocationID:  req.AllocationID,
		SecurityID:    req.SecurityID,
		FaceValue:     faceValue,
		DirtyPrice:    dirtyPrice,
		Haircut:       haircut,
		ValuationDate: valuationDate,
		Reference:     req.Reference,
	}
	if req.CleanPrice != "" {
		cleanPrice, ok := parseDecimal(c, "clean_price", req.CleanPrice)
		if !ok {
			return application.AddCollateralCommand{}, false
		}
		cmd.CleanPrice = &cleanPrice
	}
	return cmd, true
}

func (h *Handler) AddCollateral(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req AddCollateralReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, ok := h.buildAddCollateralCommand(c, req)
	if !ok {
		return
	}

	positionID, err := h.commands.AddCollateral(c.Request.Context(), actor, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"position_id": positionID})
}

func (h *Handler) ActivateCollateral(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.commands.ActivateCollateral(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) ReturnCollateral(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.commands.ReturnCollateral(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type SubstituteCollateralReq struct {
	OldPositionID string           `json:"old_position_id" binding:"required"`
	Reason        string           `json:"reason" binding:"required"`
	New           AddCollateralReq `json:"new" binding:"required"`
}

func (h *Handler) SubstituteCollateral(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req SubstituteCollateralReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	newCmd, ok := h.buildAddCollateralCommand(c, req.New)
	if !ok {
		return
	}

	newPositionID, err := h.commands.SubstituteCollateral(c.Request.Context(), actor, application.SubstituteCollateralCommand{
		OldPositionID: req.OldPositionID,
		Reason:        req.Reason,
		New:           newCmd,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_position_id": newPositionID})
}
