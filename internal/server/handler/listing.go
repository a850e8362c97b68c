package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nftbazaar/marketd/internal/domain"
)

// ListingService defines the methods that the listing handler requires from
// the service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type ListingService interface {
	CreateListing(ctx context.Context, req domain.ListingRequest) (domain.Listing, error)
	CancelListing(ctx context.Context, listingID uint64, caller common.Address, sig []byte) (domain.Listing, error)
	CreateSale(ctx context.Context, listingID uint64, caller common.Address, sig []byte, paid *big.Int) (domain.Listing, error)
	GetListing(ctx context.Context, id uint64) (domain.Listing, error)
	AvailableListings(ctx context.Context) ([]domain.Listing, error)
	ListingsByRole(ctx context.Context, role domain.Role, addr common.Address) ([]domain.Listing, error)
	LatestListingByToken(ctx context.Context, tokenID uint64) (domain.Listing, error)
}

// ListingHandler serves listing-related HTTP endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the JSON body for POST /api/listings.
type createListingRequest struct {
	TokenContract string `json:"token_contract"`
	TokenID       uint64 `json:"token_id"`
	PriceWei      string `json:"price_wei"`
	Caller        string `json:"caller"`
	Signature     string `json:"signature"`
	PaidWei       string `json:"paid_wei"`
}

// saleRequest is the JSON body for POST /api/listings/{id}/buy.
type saleRequest struct {
	Caller    string `json:"caller"`
	Signature string `json:"signature"`
	PaidWei   string `json:"paid_wei"`
}

// cancelRequest is the JSON body for POST /api/listings/{id}/cancel.
type cancelRequest struct {
	Caller    string `json:"caller"`
	Signature string `json:"signature"`
}

// listListingsResponse wraps the list endpoint output.
type listListingsResponse struct {
	Listings []listingJSON `json:"listings"`
}

// CreateListing lists a token for sale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if !common.IsHexAddress(req.TokenContract) {
		writeError(w, http.StatusBadRequest, "token_contract is not a valid address")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller is not a valid address")
		return
	}
	price, ok := parseWei(req.PriceWei)
	if !ok {
		writeError(w, http.StatusBadRequest, "price_wei must be a non-negative decimal integer")
		return
	}
	paid, ok := parseWei(req.PaidWei)
	if !ok {
		writeError(w, http.StatusBadRequest, "paid_wei must be a non-negative decimal integer")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature must be 0x-prefixed hex")
		return
	}

	listing, err := h.listings.CreateListing(r.Context(), domain.ListingRequest{
		TokenContract: common.HexToAddress(req.TokenContract),
		TokenID:       req.TokenID,
		Price:         price,
		Caller:        caller,
		Signature:     sig,
		Paid:          paid,
	})
	if err != nil {
		h.writeDomainError(w, r, "create listing", err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingJSON(listing))
}

// BuyListing settles a purchase of an active listing.
// POST /api/listings/{id}/buy
func (h *ListingHandler) BuyListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller is not a valid address")
		return
	}
	paid, ok := parseWei(req.PaidWei)
	if !ok {
		writeError(w, http.StatusBadRequest, "paid_wei must be a non-negative decimal integer")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature must be 0x-prefixed hex")
		return
	}

	listing, err := h.listings.CreateSale(r.Context(), id, caller, sig, paid)
	if err != nil {
		h.writeDomainError(w, r, "buy listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingJSON(listing))
}

// CancelListing returns an unsold token to its seller.
// POST /api/listings/{id}/cancel
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller is not a valid address")
		return
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature must be 0x-prefixed hex")
		return
	}

	listing, err := h.listings.CancelListing(r.Context(), id, caller, sig)
	if err != nil {
		h.writeDomainError(w, r, "cancel listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingJSON(listing))
}

// GetListing returns a single listing by its ID.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return
	}

	listing, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get listing", err)
		return
	}

	writeJSON(w, http.StatusOK, toListingJSON(listing))
}

// ListAvailable returns every listing still open for purchase.
// GET /api/listings
func (h *ListingHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.AvailableListings(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "list available", err)
		return
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: toListingsJSON(listings)})
}

// ListSelling returns listings created by the given address.
// GET /api/listings/selling?address=0x...
func (h *ListingHandler) ListSelling(w http.ResponseWriter, r *http.Request) {
	h.listByRole(w, r, domain.RoleSeller)
}

// ListOwned returns resolved listings whose token or proceeds went to the
// given address.
// GET /api/listings/owned?address=0x...
func (h *ListingHandler) ListOwned(w http.ResponseWriter, r *http.Request) {
	h.listByRole(w, r, domain.RoleOwner)
}

func (h *ListingHandler) listByRole(w http.ResponseWriter, r *http.Request, role domain.Role) {
	addr, ok := parseAddress(r.URL.Query().Get("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "address query parameter must be a valid address")
		return
	}

	listings, err := h.listings.ListingsByRole(r.Context(), role, addr)
	if err != nil {
		h.writeDomainError(w, r, "list by role", err)
		return
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: toListingsJSON(listings)})
}

// LatestByToken returns the most recent listing for a token ID.
// GET /api/tokens/{tokenId}/latest-listing
func (h *ListingHandler) LatestByToken(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathID(r, "tokenId")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}

	listing, err := h.listings.LatestListingByToken(r.Context(), tokenID)
	if err != nil {
		h.writeDomainError(w, r, "latest by token", err)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(listing))
}

// writeDomainError maps domain sentinel errors onto HTTP statuses. Anything
// unmapped is logged and reported as a 500.
func (h *ListingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "listing not found")
	case errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrFeeMismatch),
		errors.Is(err, domain.ErrPriceMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient funds")
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotSeller),
		errors.Is(err, domain.ErrNotTokenHolder):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrListingClosed),
		errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrReentrantCall):
		writeError(w, http.StatusServiceUnavailable, "ledger busy, retry")
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// parseAddress validates and parses a hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseWei parses a non-negative decimal wei amount.
func parseWei(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
