package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nftbazaar/marketd/internal/domain"
)

type fakeMarketService struct {
	fee   *big.Int
	stats domain.MarketStats
	err   error
}

func (f *fakeMarketService) ListingFee() *big.Int {
	return f.fee
}

func (f *fakeMarketService) Stats(ctx context.Context) (domain.MarketStats, error) {
	return f.stats, f.err
}

func newMarketHandler(svc MarketInfoService) *MarketHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMarketHandler(svc, logger)
}

func TestGetFee(t *testing.T) {
	h := newMarketHandler(&fakeMarketService{fee: big.NewInt(25_000_000_000_000_000)})

	rec := httptest.NewRecorder()
	h.GetFee(rec, httptest.NewRequest(http.MethodGet, "/api/market/fee", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["listing_fee_wei"] != "25000000000000000" {
		t.Errorf("fee = %q", body["listing_fee_wei"])
	}
}

func TestGetStats(t *testing.T) {
	h := newMarketHandler(&fakeMarketService{
		stats: domain.MarketStats{
			TotalListings: 10,
			SoldCount:     4,
			CanceledCount: 2,
			FeePoolWei:    big.NewInt(6_000),
		},
	})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/market/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		TotalListings uint64 `json:"total_listings"`
		Sold          uint64 `json:"sold"`
		Canceled      uint64 `json:"canceled"`
		FeePoolWei    string `json:"fee_pool_wei"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.TotalListings != 10 || body.Sold != 4 || body.Canceled != 2 || body.FeePoolWei != "6000" {
		t.Errorf("body = %+v", body)
	}
}

func TestGetStatsError(t *testing.T) {
	h := newMarketHandler(&fakeMarketService{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/market/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
