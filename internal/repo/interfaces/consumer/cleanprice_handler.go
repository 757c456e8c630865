// Package consumer 行情事件消费者
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/repotrading/internal/repo/domain"
)

// CleanPriceTopic 上游行情服务发布净价更新的主题
const CleanPriceTopic = "refdata.cleanprice.updated"

// CleanPriceHandler 消费净价行情并刷新本地报价缓存。
// 估值路径优先使用此缓存的观测净价，缓存缺失时才回退估算。
type CleanPriceHandler struct {
	securities domain.SecurityRepository
	logger     *slog.Logger
}

func NewCleanPriceHandler(securities domain.SecurityRepository, logger *slog.Logger) *CleanPriceHandler {
	return &CleanPriceHandler{securities: securities, logger: logger}
}

func (h *CleanPriceHandler) Handle(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case CleanPriceTopic:
		var payload struct {
			SecurityID string `json:"security_id"`
			CleanPrice string `json:"clean_price"`
			QuotedAt   string `json:"quoted_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			h.logger.ErrorContext(ctx, "failed to unmarshal clean price event", "error", err)
			return err
		}
		if payload.SecurityID == "" {
			h.logger.WarnContext(ctx, "clean price event without security id, skipping")
			return nil
		}
		price, err := decimal.NewFromString(payload.CleanPrice)
		if err != nil || !price.IsPositive() {
			h.logger.WarnContext(ctx, "clean price event with invalid price, skipping",
				"security_id", payload.SecurityID, "clean_price", payload.CleanPrice)
			return nil
		}
		quotedAt, err := time.Parse(time.RFC3339, payload.QuotedAt)
		if err != nil {
			quotedAt = time.Now()
		}
		return h.securities.UpsertCleanPrice(ctx, &domain.CleanPriceQuote{
			SecurityID: payload.SecurityID,
			CleanPrice: price,
			QuotedAt:   quotedAt,
		})
	default:
		h.logger.WarnContext(ctx, "unknown market data topic", "topic", msg.Topic)
		return nil
	}
}
