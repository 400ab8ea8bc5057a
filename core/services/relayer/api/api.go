// Package api is the Ingress API (spec.md §4.4): gin-gonic handlers for
// submission, status, stats, health, history and admin-concurrency
// endpoints, wired with the same middleware stack chainlink's web layer
// reaches for — gin-contrib/cors, danielkov/gin-helmet, ulule/limiter for
// sliding-window rate limiting, and Depado/ginprom for Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/Depado/ginprom"
	ginhelmet "github.com/danielkov/gin-helmet"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter"
	mgin "github.com/ulule/limiter/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/drivers/store/memory"
	null "gopkg.in/guregu/null.v4"

	"github.com/aionpay/relayer/core/chains/evm/relayertxm"
	"github.com/aionpay/relayer/core/config"
	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/store"
	"github.com/aionpay/relayer/core/services/relayer/types"
	"github.com/aionpay/relayer/core/services/relayer/validator"
)

var (
	addressRe   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hexStringRe = regexp.MustCompile(`^0x[0-9a-fA-F]+$`)
)

// API holds the dependencies the HTTP handlers close over.
type API struct {
	lggr logger.Logger
	st   *store.Store
	ex   *relayertxm.Executor
	vd   *validator.Validator
	cfg  *config.Config

	startedAt time.Time
}

// New constructs the API and returns a *gin.Engine with every route and
// middleware wired (spec.md §4.4).
func New(st *store.Store, ex *relayertxm.Executor, vd *validator.Validator, cfg *config.Config, lggr logger.Logger) *gin.Engine {
	a := &API{lggr: lggr.Named("API"), st: st, ex: ex, vd: vd, cfg: cfg, startedAt: time.Now()}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginLogger(a.lggr))
	r.Use(cors.Default())
	r.Use(ginhelmet.Default())

	p := ginprom.New(
		ginprom.Engine(r),
		ginprom.Subsystem("relayer"),
		ginprom.Path("/metrics"),
	)
	r.Use(p.Instrument())

	submitLimiter := newSubmitRateLimiter()

	relayerGroup := r.Group("/relayer")
	{
		relayerGroup.POST("/submit", submitLimiter, a.submit)
		relayerGroup.POST("/transfers", submitLimiter, a.submit)
		relayerGroup.GET("/transfers", a.listTransfers)
		relayerGroup.GET("/transfers/:id", a.getTransfer)
		relayerGroup.GET("/stats", a.stats)
		relayerGroup.GET("/health", a.health)

		admin := relayerGroup.Group("/admin")
		if cfg.AdminCredentialConfigured() {
			admin.Use(gin.BasicAuth(gin.Accounts{cfg.AdminUser: cfg.AdminPassword}))
		}
		admin.PUT("/concurrency", a.setConcurrency)
	}

	r.GET("/transactions/:address", a.transactionsForAddress)

	return r
}

// newSubmitRateLimiter enforces spec.md §4.4's 10 requests / 60 seconds
// per client-address sliding window on the submission endpoint.
func newSubmitRateLimiter() gin.HandlerFunc {
	rate := limiter.Rate{Period: 60 * time.Second, Limit: 10}
	store := memorystore.NewStore()
	instance := limiter.New(store, rate)
	middleware := mgin.NewMiddleware(instance, mgin.WithErrorHandler(func(c *gin.Context, err error) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter failure", "message": err.Error()})
	}), mgin.WithLimitReachedHandler(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "retryAfter": 60})
	}))
	return middleware
}

type submitRequest struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	Nonce           string `json:"nonce"`
	Deadline        int64  `json:"deadline"`
	Signature       string `json:"signature"`
	ContractAddress string `json:"contractAddress"`
	TokenAddress    string `json:"tokenAddress"`
}

// submit implements POST /relayer/submit and /relayer/transfers (spec.md
// §4.4, §6).
func (a *API) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": []string{"malformed request body: " + err.Error()}})
		return
	}

	if errs := validateShape(req); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": errs})
		return
	}

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": []string{"signature must be valid hex: " + err.Error()}})
		return
	}

	t := &types.SignedTransfer{
		Nonce:           req.Nonce,
		From:            req.From,
		To:              req.To,
		Amount:          req.Amount,
		Deadline:        req.Deadline,
		Signature:       signature,
		ContractAddress: req.ContractAddress,
	}
	if req.TokenAddress != "" {
		t.TokenAddress = null.StringFrom(req.TokenAddress)
	}

	if !a.st.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "errors": []string{"store is unavailable"}})
		return
	}

	// Validate the unsaved candidate (excludeTransferID 0, since it has no
	// id yet) before persisting anything: a failing ingest must never
	// create a row (spec.md §3/§8 E2E scenario 3). The nonce unique
	// constraint on InsertValidated below is the race-safety net against a
	// concurrent duplicate that slips past this check.
	verdict := a.vd.Validate(c.Request.Context(), t, 0)
	if !verdict.OK() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": flagErrors(verdict)})
		return
	}

	if err := a.st.InsertValidated(c.Request.Context(), t); err != nil {
		if errors.Is(err, store.ErrDuplicateNonce) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": []string{"Nonce already used"}})
			return
		}
		a.lggr.Errorw("failed to insert validated transfer", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": "failed to persist transfer"})
		return
	}
	a.appendEvent(c.Request.Context(), t.ID, types.EventReceived, "transfer received", nil)
	a.appendEvent(c.Request.Context(), t.ID, types.EventValidated, "transfer validated", nil)
	a.ex.Wake()

	c.JSON(http.StatusCreated, gin.H{"success": true, "transferId": t.ID, "message": "transfer accepted"})
}

// decodeSignature hex-decodes req.Signature (validateShape already
// confirmed it matches 0x[0-9a-f]+) into the raw bytes evmsigner.
// RecoverSigner expects, rather than treating the ASCII hex string itself
// as the signature bytes.
func decodeSignature(sig string) ([]byte, error) {
	return hexutil.Decode(sig)
}

func (a *API) appendEvent(ctx context.Context, transferID int64, status, message string, metadata null.String) {
	if err := a.st.AppendEvent(ctx, transferID, status, message, metadata); err != nil {
		a.lggr.Warnw("failed to append event", "transferID", transferID, "status", status, "err", err)
	}
}

func flagErrors(v validator.Verdict) []string {
	var out []string
	for _, msg := range v.Errors {
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, "validation failed")
	}
	return out
}

// validateShape enforces spec.md §6's input-shape regexes before any
// cryptographic or on-chain check runs.
func validateShape(req submitRequest) []string {
	var errs []string
	if !addressRe.MatchString(req.From) {
		errs = append(errs, "from must match 0x[0-9a-f]{40}")
	}
	if !addressRe.MatchString(req.To) {
		errs = append(errs, "to must match 0x[0-9a-f]{40}")
	}
	if !addressRe.MatchString(req.ContractAddress) {
		errs = append(errs, "contractAddress must match 0x[0-9a-f]{40}")
	}
	if req.TokenAddress != "" && !addressRe.MatchString(req.TokenAddress) {
		errs = append(errs, "tokenAddress must match 0x[0-9a-f]{40}")
	}
	if !hexStringRe.MatchString(req.Nonce) {
		errs = append(errs, "nonce must match 0x[0-9a-f]+")
	}
	if !hexStringRe.MatchString(req.Signature) {
		errs = append(errs, "signature must match 0x[0-9a-f]+")
	}
	if amt, err := decimal.NewFromString(req.Amount); err != nil || !amt.IsPositive() {
		errs = append(errs, "amount must parse positive")
	}
	if req.Deadline <= 0 {
		errs = append(errs, "deadline must be a positive integer")
	}
	return errs
}

// listTransfers implements GET /relayer/transfers?from=&to=&status=, an
// operator-facing listing alongside the single-id status endpoint
// (SPEC_FULL.md §9). status filters by lifecycle state; from/to filter by
// address using the same lookup the history endpoint uses (matching either
// column). Only one filter applies: status wins over from/to, and from wins
// over to; the others are ignored — good enough for operator tooling, not
// a public-facing query planner.
func (a *API) listTransfers(c *gin.Context) {
	const defaultLimit = 100
	ctx := c.Request.Context()

	status := types.Status(c.Query("status"))
	if status != "" {
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		rows, err := a.st.ListByStatus(ctx, status, defaultLimit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfers": rows})
		return
	}

	address := c.Query("from")
	if address == "" {
		address = c.Query("to")
	}
	if address != "" {
		if !addressRe.MatchString(address) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must match 0x[0-9a-f]{40}"})
			return
		}
		rows, err := a.st.ListForAddress(ctx, address, defaultLimit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transfers": rows})
		return
	}

	c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of status, from, to is required"})
}

// getTransfer implements GET /relayer/transfers/:id (spec.md §4.4/§6).
func (a *API) getTransfer(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	t, err := a.st.FindByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transfer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	events, err := a.st.ListEvents(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfer": t, "events": events})
}

// stats implements GET /relayer/stats (spec.md §4.4/§6).
func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()
	pending, _ := a.st.CountByStatus(ctx, types.StatusValidated)
	processing, _ := a.st.CountByStatus(ctx, types.StatusPending)
	failed, _ := a.st.CountByStatus(ctx, types.StatusFailed)
	completed, _ := a.st.CountByStatus(ctx, types.StatusConfirmed)
	current, max := a.ex.Stats()

	c.JSON(http.StatusOK, gin.H{
		"queue": gin.H{
			"pending":    pending,
			"processing": processing,
			"failed":     failed,
			"completed":  completed,
		},
		"processing": gin.H{"current": current, "max": max},
		"timestamp":  time.Now(),
	})
}

// health implements GET /relayer/health.
func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptimeSeconds": int(time.Since(a.startedAt).Seconds()),
		"storeHealthy": a.st.Healthy(),
	})
}

type concurrencyRequest struct {
	MaxConcurrent int `json:"maxConcurrent"`
}

// setConcurrency implements PUT /relayer/admin/concurrency (spec.md §4.4/§4.5).
func (a *API) setConcurrency(c *gin.Context) {
	var req concurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	if err := a.ex.SetMaxConcurrent(req.MaxConcurrent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "maxConcurrent": req.MaxConcurrent})
}

// transactionsForAddress implements GET /transactions/:address (spec.md §4.4/§6).
func (a *API) transactionsForAddress(c *gin.Context) {
	address := c.Param("address")
	if !addressRe.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must match 0x[0-9a-f]{40}"})
		return
	}
	rows, err := a.st.ListForAddress(c.Request.Context(), address, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": rows})
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
