package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

type RolloverClientReq struct {
	ClientID            string `json:"client_id" binding:"required"`
	PortfolioID         string `json:"portfolio_id" binding:"required"`
	PrincipalAdjustment string `json:"principal_adjustment"`
	InterestAction      string `json:"interest_action" binding:"required,oneof=REINVEST PAYOUT"`
}

type RolloverReq struct {
	NewIssueDate    string              `json:"new_issue_date"`
	NewMaturityDate string              `json:"new_maturity_date"`
	NewRate         string              `json:"new_rate"`
	ValuationDate   string              `json:"valuation_date" binding:"required"`
	Notes           string              `json:"notes"`
	Clients         []RolloverClientReq `json:"clients" binding:"required,min=1"`
}

func (h *Handler) buildRolloverRequest(c *gin.Context, req RolloverReq) (domain.RolloverRequest, bool) {
	valuationDate, ok := parseDate(c, "valuation_date", req.ValuationDate)
	if !ok {
		return domain.RolloverRequest{}, false
	}
	out := domain.RolloverRequest{ValuationDate: valuationDate, Notes: req.Notes}

	if req.NewIssueDate != "" {
		d, ok := parseDate(c, "new_issue_date", req.NewIssueDate)
		if !ok {
			return domain.RolloverRequest{}, false
		}
		out.NewIssueDate = &d
	}
	if req.NewMaturityDate != "" {
		d, ok := parseDate(c, "new_maturity_date", req.NewMaturityDate)
		if !ok {
			return domain.RolloverRequest{}, false
		}
		out.NewMaturityDate = &d
	}
	if req.NewRate != "" {
		r, ok := parseDecimal(c, "new_rate", req.NewRate)
		if !ok {
			return domain.RolloverRequest{}, false
		}
		out.NewRate = &r
	}

	for _, cl := range req.Clients {
		adjustment := decimal.Zero
		if cl.PrincipalAdjustment != "" {
			var ok bool
			adjustment, ok = parseDecimal(c, "principal_adjustment", cl.PrincipalAdjustment)
			if !ok {
				return domain.RolloverRequest{}, false
			}
		}
		out.Clients = append(out.Clients, domain.RolloverClient{
			ClientID:            cl.ClientID,
			PortfolioID:         cl.PortfolioID,
			PrincipalAdjustment: adjustment,
			InterestAction:      domain.InterestAction(cl.InterestAction),
		})
	}
	return out, true
}

func (h *Handler) PreviewRollover(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req RolloverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rolloverReq, ok := h.buildRolloverRequest(c, req)
	if !ok {
		return
	}

	plan, err := h.rollover.Preview(c.Request.Context(), actor, c.Param("id"), rolloverReq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (h *Handler) Rollover(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req RolloverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rolloverReq, ok := h.buildRolloverRequest(c, req)
	if !ok {
		return
	}

	result, err := h.rollover.Roll(c.Request.Context(), actor, c.Param("id"), rolloverReq)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type RunAccrualsReq struct {
	Date string `json:"date"`
	From string `json:"from"`
	To   string `json:"to"`
}

// RunAccruals 触发计息批处理。给 date 跑单日，给 from/to 跑区间补账。
func (h *Handler) RunAccruals(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req RunAccrualsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var result domain.AccrualBatchResult
	var err error
	switch {
	case req.Date != "":
		var date time.Time
		if date, ok = parseDate(c, "date", req.Date); !ok {
			return
		}
		result, err = h.accruals.RunDay(c.Request.Context(), actor.OrgID, date)
	case req.From != "" && req.To != "":
		from, ok := parseDate(c, "from", req.From)
		if !ok {
			return
		}
		to, ok := parseDate(c, "to", req.To)
		if !ok {
			return
		}
		result, err = h.accruals.RunRange(c.Request.Context(), actor.OrgID, from, to)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either date or from/to is required"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	failures := make([]gin.H, 0, len(result.Errors))
	for _, item := range result.Errors {
		failures = append(failures, gin.H{
			"allocation_id": item.AllocationID,
			"date":          item.Date.Format(dateLayout),
			"error":         item.Err.Error(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"upserted":  result.Upserted,
		"failed":    result.Failed,
		"failures":  failures,
	})
}

func (h *Handler) GetDailyAccrualTotal(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	date, ok := parseDate(c, "date", c.Query("date"))
	if !ok {
		return
	}
	total, count, err := h.queries.GetDailyAccrualTotal(c.Request.Context(), actor.OrgID, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date.Format(dateLayout), "total": total, "records": count})
}
