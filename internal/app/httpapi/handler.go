// Package httpapi exposes the raffle engine over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	app "github.com/bclot-labs/raffle_layer/internal/app"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/round"
	"github.com/bclot-labs/raffle_layer/internal/app/domain/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/metrics"
	claimssvc "github.com/bclot-labs/raffle_layer/internal/app/services/claims"
	pricefeedsvc "github.com/bclot-labs/raffle_layer/internal/app/services/pricefeed"
	randomnesssvc "github.com/bclot-labs/raffle_layer/internal/app/services/randomness"
	roundssvc "github.com/bclot-labs/raffle_layer/internal/app/services/rounds"
	treasurysvc "github.com/bclot-labs/raffle_layer/internal/app/services/treasury"
	"github.com/bclot-labs/raffle_layer/internal/app/storage"
	"github.com/bclot-labs/raffle_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the raffle services.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns a mux exposing the raffle REST API, wrapped with rate
// limiting, metrics and audit middleware.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application, audit: newAuditLog(), log: logger.NewDefault("httpapi")}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/directory", h.directory)
	mux.HandleFunc("/stats", h.stats)
	mux.HandleFunc("/price", h.price)
	mux.HandleFunc("/price/test", h.priceTest)
	mux.HandleFunc("/rounds", h.rounds)
	mux.HandleFunc("/rounds/", h.roundResources)
	mux.HandleFunc("/randomness/", h.randomnessDelivery)
	mux.HandleFunc("/treasury/", h.treasuryResources)
	mux.HandleFunc("/events", h.eventStream)
	mux.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(rateLimit(h.audit.middleware(mux)))
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) directory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dir, err := h.app.Rounds.Directory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, dir)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dir, err := h.app.Rounds.Directory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	vault, err := h.app.Treasury.Balance(r.Context(), treasury.PrizeVault)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"directory":     dir,
		"vault_balance": vault,
		"recent_audit":  h.audit.recent(20),
	})
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	price, err := h.app.Prices.TicketPrice(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	_, overridden := h.app.Prices.TestTicketPrice()
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_price": price,
		"test_price":   overridden,
	})
}

func (h *handler) priceTest(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Price uint64 `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if payload.Price == 0 {
			writeError(w, http.StatusBadRequest, errors.New("price must be positive"))
			return
		}
		h.app.Prices.SetTestTicketPrice(&payload.Price)
		writeJSON(w, http.StatusOK, map[string]uint64{"ticket_price": payload.Price})

	case http.MethodDelete:
		h.app.Prices.SetTestTicketPrice(nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) rounds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := queryInt(r, "limit", 0)
		items, err := h.app.Rounds.ListRounds(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var payload struct {
			RoundID uint32 `json:"round_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opened, err := h.app.Rounds.OpenRound(r.Context(), payload.RoundID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, opened)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) roundResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rounds"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "current":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id, err := h.app.Rounds.CurrentRoundID(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint32{"round_id": id})
		return
	case "count":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		count, err := h.app.Rounds.RoundCount(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint32{"total_rounds": count})
		return
	}

	id64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid round id"))
		return
	}
	roundID := uint32(id64)

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		got, err := h.app.Rounds.GetRound(r.Context(), roundID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, got)
		return
	}

	switch parts[1] {
	case "result":
		h.roundResult(w, r, roundID)
	case "purchases":
		h.roundPurchases(w, r, roundID)
	case "claim":
		h.roundClaim(w, r, roundID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) roundResult(w http.ResponseWriter, r *http.Request, roundID uint32) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.app.Rounds.RoundResult(r.Context(), roundID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) roundPurchases(w http.ResponseWriter, r *http.Request, roundID uint32) {
	switch r.Method {
	case http.MethodGet:
		items, err := h.app.Rounds.ListPurchases(r.Context(), roundID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var payload struct {
			Buyer   string `json:"buyer"`
			Count   uint32 `json:"count"`
			MaxCost uint64 `json:"max_cost"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		purchase, updated, err := h.app.Rounds.RecordPurchase(r.Context(), roundssvc.PurchaseRequest{
			RoundID: roundID,
			Buyer:   payload.Buyer,
			Count:   payload.Count,
			MaxCost: payload.MaxCost,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"purchase": purchase,
			"round":    updated,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) roundClaim(w http.ResponseWriter, r *http.Request, roundID uint32) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Claimant string `json:"claimant"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settlement, err := h.app.Claims.Claim(r.Context(), roundID, payload.Claimant)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (h *handler) randomnessDelivery(w http.ResponseWriter, r *http.Request) {
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/randomness"), "/")
	if token == "" || strings.Contains(token, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		req, err := h.app.Randomness.GetRequest(r.Context(), token)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, req)

	case http.MethodPost:
		var payload struct {
			Value uint64 `json:"value"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Randomness.Deliver(r.Context(), token, payload.Value); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) treasuryResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/treasury"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "deposit":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Account string `json:"account"`
			Amount  uint64 `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		balance, err := h.app.Treasury.Deposit(r.Context(), payload.Account, payload.Amount)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": payload.Account, "balance": balance})

	case "accounts":
		if len(parts) != 2 || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		balance, err := h.app.Treasury.Balance(r.Context(), parts[1])
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": parts[1], "balance": balance})

	case "transfers":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := h.app.Treasury.History(r.Context(), r.URL.Query().Get("account"), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, items)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// statusFor maps domain errors onto HTTP statuses: unknown records are 404,
// state conflicts 409, validation failures 400 and funding failures 402.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, roundssvc.ErrRoundCompleted),
		errors.Is(err, roundssvc.ErrRoundSequence),
		errors.Is(err, roundssvc.ErrRoundNotEndedYet),
		errors.Is(err, roundssvc.ErrRoundNotOpen),
		errors.Is(err, roundssvc.ErrRoundNotCompleted),
		errors.Is(err, roundssvc.ErrWinnerAlreadySet),
		errors.Is(err, roundssvc.ErrPrizeAlreadyClaimed):
		return http.StatusConflict
	case errors.Is(err, roundssvc.ErrNotTheWinner),
		errors.Is(err, treasurysvc.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, treasury.ErrInsufficientFunds),
		errors.Is(err, claimssvc.ErrInsufficientVaultBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, randomnesssvc.ErrRequestPoolExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, pricefeedsvc.ErrOracleUnavailable),
		errors.Is(err, pricefeedsvc.ErrStalePrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, round.ErrLedgerFull):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// rateLimit bounds request throughput across all endpoints except the
// health and metrics probes.
func rateLimit(next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(200), 400)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
