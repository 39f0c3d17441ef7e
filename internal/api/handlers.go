package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agrobid/marketplace/internal/apperr"
	"github.com/agrobid/marketplace/internal/auth"
	"github.com/agrobid/marketplace/internal/bidding"
	"github.com/agrobid/marketplace/internal/db"
	"github.com/agrobid/marketplace/internal/models"
	"github.com/agrobid/marketplace/internal/orders"
	"github.com/agrobid/marketplace/internal/profile"
	"github.com/agrobid/marketplace/internal/settlement"

	"github.com/go-chi/chi/v5"
)

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	DB       *db.DB
	Engine   *settlement.Engine
	Auth     *auth.AuthService
	Profiles *profile.Directory
	Log      *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(database *db.DB, engine *settlement.Engine, authService *auth.AuthService, profiles *profile.Directory, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{DB: database, Engine: engine, Auth: authService, Profiles: profiles, Log: log}
}

// Routes assembles the full API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.Log))

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/listings", h.GetOpenListings)
	r.Get("/listings/{id}", h.GetListing)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Put("/profile/address", h.UpdateProfileAddress)

		r.Post("/listings", h.CreateListing)
		r.Post("/listings/{id}/cancel", h.CancelListing)
		r.Post("/listings/{id}/bids", h.SubmitBid)
		r.Post("/listings/{id}/bids/{bidID}/accept", h.AcceptBid)
		r.Get("/bids", h.ListBidsForUser)

		r.Get("/orders", h.GetUserOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}/delivery-status", h.UpdateDeliveryStatus)
		r.Put("/orders/{id}/payment-status", h.UpdatePaymentStatus)
		r.Put("/orders/{id}/status", h.SetOrderStatus)
		r.Post("/orders/{id}/cancel", h.CancelOrder)
		r.Post("/orders/{id}/review", h.ReviewOrder)

		r.Get("/admin/reconciliation", h.Reconciliation)
		r.Post("/admin/expirations", h.ExpireListings)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]string{"reason": reason, "error": message})
}

// writeDomainError maps a classified error onto the wire. Unclassified
// errors become opaque 500s; reconciliation failures carry an explicit
// marker so they can never read as success.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e == nil {
		h.Log.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
		return
	}
	if e.Kind == apperr.Reconciliation {
		h.Log.Error("reconciliation required", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"reason":                  e.Reason,
			"error":                   e.Message,
			"reconciliation_required": true,
		})
		return
	}
	writeError(w, apperr.HTTPStatus(err), e.Reason, e.Message)
}

func urlInt(r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	return v, err == nil
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string         `json:"username"`
		Password string         `json:"password"`
		Address  models.Address `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Username and password required")
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password, req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// UpdateProfileAddress replaces the caller's profile address, used for
// deliveries on buy-direction listings they own.
func (h *Handler) UpdateProfileAddress(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var addr models.Address
	if err := json.NewDecoder(r.Body).Decode(&addr); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	if !addr.Complete() {
		writeError(w, http.StatusBadRequest, apperr.ReasonAddressIncomplete,
			"Street, city, state and postal code are all required")
		return
	}

	if err := h.Profiles.SetAddress(r.Context(), id.UserID, addr); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

// CreateListing posts a new sell or buy offer.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		Direction          string     `json:"direction"`
		Product            string     `json:"product"`
		Unit               string     `json:"unit"`
		PostedPricePerUnit float64    `json:"posted_price_per_unit"`
		TotalQuantity      float64    `json:"total_quantity"`
		ExpiresAt          *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}

	listing, err := h.DB.CreateListing(r.Context(), &models.Listing{
		OwnerID:            id.UserID,
		Direction:          req.Direction,
		Product:            req.Product,
		Unit:               req.Unit,
		PostedPricePerUnit: req.PostedPricePerUnit,
		TotalQuantity:      req.TotalQuantity,
		ExpiresAt:          req.ExpiresAt,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

// GetListing returns a listing aggregate, bids included.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid listing ID")
		return
	}
	listing, err := h.DB.GetListing(r.Context(), listingID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// GetOpenListings returns all active listings.
func (h *Handler) GetOpenListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.DB.GetOpenListings(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listings)
}

// CancelListing withdraws an active listing on behalf of its owner.
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	listingID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid listing ID")
		return
	}

	listing, err := h.Engine.CancelListing(r.Context(), listingID, id.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// SubmitBid places a bid on a listing.
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	listingID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid listing ID")
		return
	}

	var req struct {
		Amount          float64        `json:"amount"`
		DeliveryAddress models.Address `json:"delivery_address"`
		PaymentMethod   string         `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Amount must be positive")
		return
	}

	listing, bid, err := h.Engine.SubmitBid(r.Context(), listingID, bidding.Proposal{
		BidderID:        id.UserID,
		Amount:          req.Amount,
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"bid":     bid,
		"listing": listing,
	})
}

// AcceptBid settles the listing on the chosen bid.
func (h *Handler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	listingID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid listing ID")
		return
	}
	bidID, ok := urlInt(r, "bidID")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid bid ID")
		return
	}

	listing, order, financials, err := h.Engine.AcceptBid(r.Context(), listingID, bidID, id.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"order":      order,
		"financials": financials,
		"listing":    listing,
	})
}

// ListBidsForUser returns the caller's bids with listing summaries.
func (h *Handler) ListBidsForUser(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	bids, err := h.DB.ListBidsForUser(r.Context(), id.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if bids == nil {
		bids = []models.UserBid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// GetUserOrders returns every order the caller is a counterparty to.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	userOrders, err := h.DB.GetUserOrders(r.Context(), id.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if userOrders == nil {
		userOrders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, userOrders)
}

// GetOrder returns one order, to its counterparties or an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	orderID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid order ID")
		return
	}

	order, err := h.DB.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !orders.CanView(order, actorOf(id)) {
		writeError(w, http.StatusForbidden, apperr.ReasonNotCounterparty, "You are not a party to this order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func actorOf(id auth.Identity) orders.Actor {
	return orders.Actor{UserID: id.UserID, Role: id.Role}
}

func (h *Handler) mutateOrder(w http.ResponseWriter, r *http.Request, fn func(o *models.Order, actor orders.Actor) error) {
	id, _ := identityFrom(r.Context())
	orderID, ok := urlInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid order ID")
		return
	}

	order, err := h.DB.MutateOrder(r.Context(), orderID, func(o *models.Order) error {
		return fn(o, actorOf(id))
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateDeliveryStatus moves the order's delivery status; "delivered"
// also completes the order in the same write.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	h.mutateOrder(w, r, func(o *models.Order, actor orders.Actor) error {
		return orders.UpdateDelivery(o, actor, req.Status, time.Now())
	})
}

// UpdatePaymentStatus records (not processes) a payment status change.
func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	h.mutateOrder(w, r, func(o *models.Order, actor orders.Actor) error {
		return orders.UpdatePayment(o, actor, req.Status)
	})
}

// SetOrderStatus is the admin-only override on the order status.
func (h *Handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	h.mutateOrder(w, r, func(o *models.Order, actor orders.Actor) error {
		return orders.SetStatus(o, actor, req.Status)
	})
}

// CancelOrder cancels the order on behalf of either counterparty.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.mutateOrder(w, r, func(o *models.Order, actor orders.Actor) error {
		return orders.Cancel(o, actor, time.Now())
	})
}

// ReviewOrder attaches the buyer's write-once rating and review.
func (h *Handler) ReviewOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating int    `json:"rating"`
		Review string `json:"review"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.ReasonInvalidInput, "Invalid request body")
		return
	}
	h.mutateOrder(w, r, func(o *models.Order, actor orders.Actor) error {
		return orders.AttachReview(o, actor, req.Rating, req.Review, time.Now())
	})
}

// Reconciliation is the admin audit: settled listings that have no
// order. A non-empty result means a settlement half-landed.
func (h *Handler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if !id.Admin() {
		writeError(w, http.StatusForbidden, apperr.ReasonAdminOnly, "Admin access required")
		return
	}

	listings, err := h.DB.FindUnreconciledSettlements(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if listings == nil {
		listings = []models.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unreconciled": listings,
		"count":        len(listings),
	})
}

// ExpireListings runs the expiry sweep on demand: active listings past
// their deadline transition to expired and their pending bids are
// rejected. The server also runs this periodically; the endpoint lets
// an admin force it.
func (h *Handler) ExpireListings(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if !id.Admin() {
		writeError(w, http.StatusForbidden, apperr.ReasonAdminOnly, "Admin access required")
		return
	}

	n, err := h.DB.ExpireDueListings(r.Context(), time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}
