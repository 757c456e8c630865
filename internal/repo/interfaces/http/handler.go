// Package http 回购交易引擎接口
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/repotrading/internal/repo/application"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

const dateLayout = "2006-01-02"

type Handler struct {
	commands *application.TradeCommandService
	rollover *application.RolloverService
	accruals *application.AccrualRunner
	queries  *application.QueryService
}

func NewHandler(
	commands *application.TradeCommandService,
	rollover *application.RolloverService,
	accruals *application.AccrualRunner,
	queries *application.QueryService,
) *Handler {
	return &Handler{commands: commands, rollover: rollover, accruals: accruals, queries: queries}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	trades := r.Group("/trades")
	{
		trades.POST("", h.CreateTrade)
		trades.GET("", h.ListTrades)
		trades.GET("/:id", h.GetTrade)
		trades.PUT("/:id/terms", h.AmendTrade)
		trades.POST("/:id/submit", h.SubmitForApproval)
		trades.POST("/:id/approve", h.Approve)
		trades.POST("/:id/post", h.Post)
		trades.POST("/:id/activate", h.Activate)
		trades.POST("/:id/cancel", h.Cancel)
		trades.POST("/:id/close", h.Close)
		trades.GET("/:id/coverage", h.GetCoverage)
		trades.POST("/:id/rollover/preview", h.PreviewRollover)
		trades.POST("/:id/rollover", h.Rollover)
	}
	collateral := r.Group("/collateral")
	{
		collateral.POST("", h.AddCollateral)
		collateral.POST("/:id/activate", h.ActivateCollateral)
		collateral.POST("/:id/return", h.ReturnCollateral)
		collateral.POST("/substitute", h.SubstituteCollateral)
	}
	allocations := r.Group("/allocations")
	{
		allocations.GET("/:id/accruals", h.ListAccruals)
		allocations.GET("/:id/ledger", h.ListLedgerEntries)
	}
	ledger := r.Group("/ledger")
	{
		ledger.POST("/:id/reverse", h.ReverseLedgerEntry)
	}
	accruals := r.Group("/accruals")
	{
		accruals.POST("/run", h.RunAccruals)
		accruals.GET("/daily-total", h.GetDailyAccrualTotal)
	}
}

// actorFrom 从请求头提取操作者身份。租户与用户缺一不可，
// 权限标识为逗号分隔的能力列表。
func actorFrom(c *gin.Context) (domain.Actor, bool) {
	orgID := c.GetHeader("X-Org-ID")
	userID := c.GetHeader("X-User-ID")
	if orgID == "" || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-Org-ID or X-User-ID header"})
		return domain.Actor{}, false
	}
	var caps []domain.Capability
	for _, raw := range strings.Split(c.GetHeader("X-Capabilities"), ",") {
		if cap := strings.TrimSpace(raw); cap != "" {
			caps = append(caps, domain.Capability(cap))
		}
	}
	return domain.Actor{UserID: userID, OrgID: orgID, Capabilities: caps}, true
}

// writeError 把领域错误族映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case domain.IsPolicyViolation(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case domain.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domain.IsDependencyFailure(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrTradeNotFound),
		errors.Is(err, domain.ErrAllocationNotFound),
		errors.Is(err, domain.ErrCollateralNotFound),
		errors.Is(err, domain.ErrLedgerEntryNotFound),
		errors.Is(err, domain.ErrSecurityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseDate(c *gin.Context, field, value string) (time.Time, bool) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " must be formatted as " + dateLayout})
		return time.Time{}, false
	}
	return t, true
}

func parseDecimal(c *gin.Context, field, value string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": field + " must be a decimal number"})
		return decimal.Decimal{}, false
	}
	return d, true
}

type AllocationReq struct {
	PortfolioID      string `json:"portfolio_id" binding:"required"`
	ClientID         string `json:"client_id" binding:"required"`
	Principal        string `json:"principal" binding:"required"`
	ReinvestInterest bool   `json:"reinvest_interest"`
}

type CreateTradeReq struct {
	CounterpartyID string          `json:"counterparty_id" binding:"required"`
	IssueDate      string          `json:"issue_date" binding:"required"`
	MaturityDate   string          `json:"maturity_date" binding:"required"`
	Rate           string          `json:"rate" binding:"required"`
	DayCountBasis  int             `json:"day_count_basis" binding:"required"`
	Notes          string          `json:"notes"`
	Allocations    []AllocationReq `json:"allocations" binding:"required,min=1"`
}

func (h *Handler) CreateTrade(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req CreateTradeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue, ok := parseDate(c, "issue_date", req.IssueDate)
	if !ok {
		return
	}
	maturity, ok := parseDate(c, "maturity_date", req.MaturityDate)
	if !ok {
		return
	}
	rate, ok := parseDecimal(c, "rate", req.Rate)
	if !ok {
		return
	}

	cmd := application.CreateTradeCommand{
		CounterpartyID: req.CounterpartyID,
		IssueDate:      issue,
		MaturityDate:   maturity,
		Rate:           rate,
		DayCountBasis:  domain.DayCountBasis(req.DayCountBasis),
		Notes:          req.Notes,
	}
	for _, a := range req.Allocations {
		principal, ok := parseDecimal(c, "principal", a.Principal)
		if !ok {
			return
		}
		cmd.Allocations = append(cmd.Allocations, application.AllocationInput{
			PortfolioID:      a.PortfolioID,
			ClientID:         a.ClientID,
			Principal:        principal,
			ReinvestInterest: a.ReinvestInterest,
		})
	}

	tradeID, err := h.commands.CreateTrade(c.Request.Context(), actor, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trade_id": tradeID})
}

func (h *Handler) ListTrades(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var statuses []domain.TradeStatus
	for _, raw := range strings.Split(c.Query("status"), ",") {
		if s := strings.TrimSpace(raw); s != "" {
			statuses = append(statuses, domain.TradeStatus(s))
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trades, total, err := h.queries.ListTrades(c.Request.Context(), actor.OrgID, statuses, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "total": total})
}

func (h *Handler) GetTrade(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	trade, err := h.queries.GetTrade(c.Request.Context(), actor.OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

type AmendTradeReq struct {
	IssueDate     string `json:"issue_date" binding:"required"`
	MaturityDate  string `json:"maturity_date" binding:"required"`
	Rate          string `json:"rate" binding:"required"`
	DayCountBasis int    `json:"day_count_basis" binding:"required"`
}

func (h *Handler) AmendTrade(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req AmendTradeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	issue, ok := parseDate(c, "issue_date", req.IssueDate)
	if !ok {
		return
	}
	maturity, ok := parseDate(c, "maturity_date", req.MaturityDate)
	if !ok {
		return
	}
	rate, ok := parseDecimal(c, "rate", req.Rate)
	if !ok {
		return
	}

	err := h.commands.AmendTrade(c.Request.Context(), actor, application.AmendTradeCommand{
		TradeID:       c.Param("id"),
		IssueDate:     issue,
		MaturityDate:  maturity,
		Rate:          rate,
		DayCountBasis: domain.DayCountBasis(req.DayCountBasis),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) SubmitForApproval(c *gin.Context) {
	h.transition(c, h.commands.SubmitForApproval)
}

func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, h.commands.Approve)
}

func (h *Handler) Post(c *gin.Context) {
	h.transition(c, h.commands.Post)
}

func (h *Handler) Activate(c *gin.Context) {
	h.transition(c, h.commands.Activate)
}

func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, h.commands.Cancel)
}

func (h *Handler) Close(c *gin.Context) {
	h.transition(c, h.commands.Close)
}

// transition 无请求体的生命周期迁移通用入口
func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, actor domain.Actor, tradeID string) error) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), actor, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) GetCoverage(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	coverage, err := h.queries.GetTradeCoverage(c.Request.Context(), actor.OrgID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, coverage)
}
