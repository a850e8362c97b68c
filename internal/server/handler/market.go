package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/nftbazaar/marketd/internal/domain"
)

// MarketInfoService defines the read-only market metadata methods the
// handler requires from the service layer.
type MarketInfoService interface {
	ListingFee() *big.Int
	Stats(ctx context.Context) (domain.MarketStats, error)
}

// MarketHandler serves marketplace metadata endpoints.
type MarketHandler struct {
	market MarketInfoService
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(market MarketInfoService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		logger: logger,
	}
}

// GetFee returns the flat listing fee.
// GET /api/market/fee
func (h *MarketHandler) GetFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"listing_fee_wei": h.market.ListingFee().String(),
	})
}

// GetStats returns aggregate marketplace counters.
// GET /api/market/stats
func (h *MarketHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.market.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: market stats failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_listings": stats.TotalListings,
		"sold":           stats.SoldCount,
		"canceled":       stats.CanceledCount,
		"fee_pool_wei":   stats.FeePoolWei.String(),
	})
}
