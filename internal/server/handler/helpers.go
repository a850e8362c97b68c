package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftbazaar/marketd/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// pathID parses a numeric path parameter. Returns 0 and false when the
// parameter is missing or not a positive integer.
func pathID(r *http.Request, name string) (uint64, bool) {
	v := pathParam(r, name)
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// listingJSON is the wire representation of a listing. Addresses are hex
// strings and the price is a decimal wei string.
type listingJSON struct {
	ID            uint64  `json:"id"`
	TokenContract string  `json:"token_contract"`
	TokenID       uint64  `json:"token_id"`
	Creator       string  `json:"creator"`
	Seller        string  `json:"seller"`
	Owner         string  `json:"owner,omitempty"`
	PriceWei      string  `json:"price_wei"`
	Sold          bool    `json:"sold"`
	Canceled      bool    `json:"canceled"`
	Active        bool    `json:"active"`
	CreatedAt     string  `json:"created_at"`
	ResolvedAt    *string `json:"resolved_at,omitempty"`
}

func toListingJSON(l domain.Listing) listingJSON {
	out := listingJSON{
		ID:            l.ID,
		TokenContract: l.TokenContract.Hex(),
		TokenID:       l.TokenID,
		Creator:       l.Creator.Hex(),
		Seller:        l.Seller.Hex(),
		PriceWei:      l.Price.String(),
		Sold:          l.Sold,
		Canceled:      l.Canceled,
		Active:        l.Active(),
		CreatedAt:     l.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if l.Owner != (common.Address{}) {
		out.Owner = l.Owner.Hex()
	}
	if l.ResolvedAt != nil {
		s := l.ResolvedAt.UTC().Format(time.RFC3339Nano)
		out.ResolvedAt = &s
	}
	return out
}

func toListingsJSON(ls []domain.Listing) []listingJSON {
	out := make([]listingJSON, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingJSON(l))
	}
	return out
}
