package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prepdeck/prepdeck/internal/circuitbreaker"
	"github.com/prepdeck/prepdeck/internal/idgen"
	"github.com/prepdeck/prepdeck/internal/metrics"
	"github.com/prepdeck/prepdeck/internal/pagination"
	"github.com/prepdeck/prepdeck/internal/provider"
	"github.com/prepdeck/prepdeck/internal/purchase"
	"github.com/prepdeck/prepdeck/internal/realtime"
	"github.com/prepdeck/prepdeck/internal/syncutil"
	"github.com/prepdeck/prepdeck/internal/validation"
)

// HandlerConfig tunes the sandbox responses.
type HandlerConfig struct {
	// Provider pair returned by /payment/provider. Defaults to the
	// client's fallback pair when empty.
	Provider     string
	ProviderName string
	SandboxMode  bool
}

// minterKey is the circuit breaker key for the checkout provider.
const minterKey = "minter"

// errMinterUnavailable is returned while the minter circuit is open.
var errMinterUnavailable = errors.New("checkout provider temporarily unavailable")

// Handler serves the sandbox API.
type Handler struct {
	store     Store
	minter    Minter
	hub       *realtime.Hub
	cfg       HandlerConfig
	breaker   *circuitbreaker.Breaker
	userLocks *syncutil.ContextShardedMutex
}

// NewHandler creates a sandbox API handler. hub may be nil.
func NewHandler(store Store, minter Minter, hub *realtime.Hub, cfg HandlerConfig) *Handler {
	if cfg.Provider == "" {
		cfg.Provider = provider.DefaultProvider
		cfg.ProviderName = provider.DefaultDisplayName
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = cfg.Provider
	}
	return &Handler{
		store:     store,
		minter:    minter,
		hub:       hub,
		cfg:       cfg,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		userLocks: syncutil.NewContextShardedMutex(),
	}
}

// mint calls the checkout minter behind the circuit breaker.
func (h *Handler) mint(ctx context.Context, pkg purchase.Package, userID, userEmail string) (string, bool, error) {
	if !h.breaker.Allow(minterKey) {
		return "", false, errMinterUnavailable
	}
	redirectURL, sandboxMode, err := h.minter.Mint(ctx, pkg, userID, userEmail)
	if err != nil {
		h.breaker.RecordFailure(minterKey)
		return "", false, err
	}
	h.breaker.RecordSuccess(minterKey)
	return redirectURL, sandboxMode, nil
}

// RegisterRoutes sets up the sandbox API routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreateUser)
	r.GET("/users/me", h.GetMe)
	r.GET("/payment/provider", h.GetProvider)
	r.POST("/payment/geo", h.MintGeoCheckout)
	r.POST("/payment/preference", h.MintPreference)
	r.POST("/payment/grant", h.GrantCredits)
	r.GET("/users/:id/purchases", validation.IDParamMiddleware(), h.ListPurchases)
}

// respondError writes the backend error envelope the client parses.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}

func respondMintError(c *gin.Context, err error) {
	if errors.Is(err, errMinterUnavailable) {
		respondError(c, http.StatusServiceUnavailable, "mint_unavailable", err.Error())
		return
	}
	respondError(c, http.StatusBadGateway, "mint_failed", err.Error())
}

// CreateUser handles POST /users (seeding accounts for demos and tests).
func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		ID      string `json:"id" binding:"required"`
		Email   string `json:"email"`
		Credits int    `json:"credits"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	req.ID = validation.SanitizeString(req.ID, 64)
	req.Email = validation.SanitizeString(req.Email, 255)
	if errs := validation.Validate(
		validation.ValidID("id", req.ID),
		validation.ValidEmail("email", req.Email),
	); len(errs) > 0 {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", errs.Error())
		return
	}

	u := &User{ID: req.ID, Email: req.Email, Credits: req.Credits}
	if err := h.store.CreateUser(c.Request.Context(), u); err != nil {
		if errors.Is(err, ErrUserExists) {
			respondError(c, http.StatusConflict, "already_exists", "user already exists")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// GetMe handles GET /users/me?userId=. Supports ETag revalidation: a
// matching If-None-Match returns 304 with no body.
func (h *Handler) GetMe(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}

	u, err := h.store.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(c, http.StatusUnauthorized, "unauthorized", "unknown user")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	etag := userETag(u)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// userETag derives a strong validator from the fields the client reads.
func userETag(u *User) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", u.ID, u.Email, u.Credits)))
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// GetProvider handles GET /payment/provider?userId=.
func (h *Handler) GetProvider(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data": gin.H{
			"provider": h.cfg.Provider,
			"name":     h.cfg.ProviderName,
		},
	})
}

// MintGeoCheckout handles POST /payment/geo: mints a provider redirect
// for the package and records a pending purchase.
func (h *Handler) MintGeoCheckout(c *gin.Context) {
	var req struct {
		PackageID string `json:"packageId" binding:"required"`
		UserID    string `json:"userId"`
		UserEmail string `json:"userEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	pkg, err := purchase.FindPackage(req.PackageID)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_package", err.Error())
		return
	}

	redirectURL, sandboxMode, err := h.mint(c.Request.Context(), pkg, req.UserID, req.UserEmail)
	if err != nil {
		respondMintError(c, err)
		return
	}

	if req.UserID != "" {
		rec := &Purchase{
			ID:        idgen.WithPrefix("pur_"),
			UserID:    req.UserID,
			PackageID: pkg.ID,
			Credits:   pkg.Credits,
			Provider:  h.cfg.Provider,
			Status:    PurchasePending,
		}
		if err := h.store.CreatePurchase(c.Request.Context(), rec); err != nil {
			respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		if h.hub != nil {
			h.hub.BroadcastCheckoutMinted(req.UserID, pkg.ID, h.cfg.Provider)
		}
	}
	metrics.CheckoutsMintedTotal.WithLabelValues(h.cfg.Provider).Inc()

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data": gin.H{
			"redirectUrl": redirectURL,
			"provider":    h.cfg.Provider,
			"sandboxMode": sandboxMode || h.cfg.SandboxMode,
		},
	})
}

// MintPreference handles POST /payment/preference (the Mercado Pago
// preference shape).
func (h *Handler) MintPreference(c *gin.Context) {
	var req struct {
		PackageID string `json:"packageId" binding:"required"`
		UserID    string `json:"userId" binding:"required"`
		UserEmail string `json:"userEmail"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	pkg, err := purchase.FindPackage(req.PackageID)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_package", err.Error())
		return
	}

	redirectURL, _, err := h.mint(c.Request.Context(), pkg, req.UserID, req.UserEmail)
	if err != nil {
		respondMintError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"preference": gin.H{
			"preferenceId":     idgen.WithPrefix("pref_"),
			"initPoint":        redirectURL,
			"sandboxInitPoint": redirectURL,
		},
	})
}

// GrantCredits handles POST /payment/grant, the webhook stand-in: it
// credits the account, settles the pending purchase, and broadcasts the
// grant to realtime subscribers.
func (h *Handler) GrantCredits(c *gin.Context) {
	var req struct {
		UserID    string `json:"userId" binding:"required"`
		PackageID string `json:"packageId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return
	}

	pkg, err := purchase.FindPackage(req.PackageID)
	if err != nil {
		respondError(c, http.StatusNotFound, "unknown_package", err.Error())
		return
	}

	// Grant and settlement are two store calls; the per-user lock keeps
	// concurrent webhook replays from interleaving them.
	unlock, err := h.userLocks.LockContext(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "unavailable", "request cancelled while waiting for the account")
		return
	}
	defer unlock()

	balance, err := h.store.GrantCredits(c.Request.Context(), req.UserID, pkg.Credits)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "unknown user")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	// Settling the purchase record is best-effort: a grant without a
	// prior mint (direct webhook replay) still credits the account.
	if _, err := h.store.MarkPaid(c.Request.Context(), req.UserID, pkg.ID); err != nil && !errors.Is(err, ErrPurchaseNotFound) {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	metrics.CreditsGrantedTotal.Add(float64(pkg.Credits))
	if h.hub != nil {
		h.hub.BroadcastCreditGrant(req.UserID, pkg.Credits, balance)
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   gin.H{"balance": balance, "granted": pkg.Credits},
	})
}

// ListPurchases handles GET /users/:id/purchases with cursor pagination.
func (h *Handler) ListPurchases(c *gin.Context) {
	userID := c.Param("id")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			respondError(c, http.StatusUnprocessableEntity, "validation_error", "limit must be 1-100")
			return
		}
		limit = n
	}
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "validation_error", "invalid cursor")
		return
	}

	// Fetch one extra row to learn whether another page exists.
	list, err := h.store.ListPurchases(c.Request.Context(), userID, after, limit+1)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	page, next, more := pagination.ComputePage(list, limit, func(p *Purchase) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"purchases":  page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}
