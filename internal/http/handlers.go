package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	mongoadapter "github.com/ticketforge/ticket-registry/internal/adapters/mongo"
	redisadapter "github.com/ticketforge/ticket-registry/internal/adapters/redis"
	"github.com/ticketforge/ticket-registry/internal/config"
	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/idempotency"
	"github.com/ticketforge/ticket-registry/internal/observability"
	"github.com/ticketforge/ticket-registry/internal/registry"
)

const ticketCacheTTL = 5 * time.Second

type Handlers struct {
	cfg     *config.Config
	reg     *registry.Registry
	cache   *redisadapter.Cache
	idemp   *idempotency.Idempotency
	catalog *mongoadapter.CatalogRepository
}

func NewHandlers(cfg *config.Config, reg *registry.Registry, cache *redisadapter.Cache, idemp *idempotency.Idempotency, catalog *mongoadapter.CatalogRepository) *Handlers {
	return &Handlers{
		cfg:     cfg,
		reg:     reg,
		cache:   cache,
		idemp:   idemp,
		catalog: catalog,
	}
}

func caller(r *http.Request) domain.Account {
	return domain.Account(r.Header.Get("X-Account"))
}

func ticketID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTicketNotFound), errors.Is(err, domain.ErrNotListed):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimitExceeded), errors.Is(err, domain.ErrMintCapExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrSelfPurchase),
		errors.Is(err, domain.ErrCooldownActive),
		errors.Is(err, domain.ErrAlreadyUsed),
		errors.Is(err, domain.ErrAlreadyScanned),
		errors.Is(err, domain.ErrEventAlreadyOccurred),
		errors.Is(err, domain.ErrTransferFailed),
		errors.Is(err, domain.ErrReentrancy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrPriceTooLow),
		errors.Is(err, domain.ErrEventInPast),
		errors.Is(err, domain.ErrPriceExceedsCap),
		errors.Is(err, domain.ErrInvalidRoyalty):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeErr(w http.ResponseWriter, op string, err error) {
	observability.OpsTotal.WithLabelValues(op, "error").Inc()
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// replay serves a stored response for a repeated Idempotency-Key. Returns
// true when the request was already handled.
func (h *Handlers) replay(w http.ResponseWriter, r *http.Request) bool {
	if h.idemp == nil {
		return false
	}
	existing, err := h.idemp.Get(r.Context(), r.Header.Get("Idempotency-Key"))
	if err != nil || existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(existing.Status)
	w.Write(existing.Result)
	return true
}

func (h *Handlers) remember(r *http.Request, status int, body []byte) {
	if h.idemp == nil {
		return
	}
	h.idemp.Set(r.Context(), r.Header.Get("Idempotency-Key"), idempotency.Response{Status: status, Result: body})
}

func (h *Handlers) Mint(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}

	var req struct {
		To          string `json:"to"`
		EventID     string `json:"event_id"`
		Price       uint64 `json:"price"`
		EventDate   string `json:"event_date"`
		MetadataRef string `json:"metadata_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var eventDate time.Time
	if req.EventDate != "" {
		var err error
		eventDate, err = time.Parse(time.RFC3339, req.EventDate)
		if err != nil {
			http.Error(w, "invalid event_date", http.StatusBadRequest)
			return
		}
	}
	if h.catalog != nil {
		doc, err := h.catalog.GetEvent(r.Context(), req.EventID)
		if err != nil {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		if eventDate.IsZero() {
			eventDate = doc.Date
		}
	}

	id, err := h.reg.Mint(caller(r), domain.Account(req.To), req.EventID, req.Price, eventDate, req.MetadataRef)
	if err != nil {
		writeErr(w, "mint", err)
		return
	}
	observability.OpsTotal.WithLabelValues("mint", "ok").Inc()

	body := writeJSON(w, http.StatusCreated, map[string]any{"ticket_id": id})
	h.remember(r, http.StatusCreated, body)
}

func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Price uint64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.reg.List(caller(r), id, req.Price); err != nil {
		writeErr(w, "list", err)
		return
	}
	observability.OpsTotal.WithLabelValues("list", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "price": req.Price})
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.reg.Cancel(caller(r), id); err != nil {
		writeErr(w, "cancel", err)
		return
	}
	observability.OpsTotal.WithLabelValues("cancel", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id})
}

func (h *Handlers) Buy(w http.ResponseWriter, r *http.Request) {
	if h.replay(w, r) {
		return
	}

	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Paid uint64 `json:"paid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.reg.Buy(caller(r), id, req.Paid); err != nil {
		writeErr(w, "buy", err)
		return
	}
	observability.OpsTotal.WithLabelValues("buy", "ok").Inc()
	observability.SaleVolume.Add(float64(req.Paid))

	body := writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "owner": string(caller(r))})
	h.remember(r, http.StatusOK, body)
}

func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.reg.Validate(caller(r), id); err != nil {
		writeErr(w, "validate", err)
		return
	}
	observability.OpsTotal.WithLabelValues("validate", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "used": true})
}

func (h *Handlers) Burn(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.reg.Burn(caller(r), id); err != nil {
		writeErr(w, "burn", err)
		return
	}
	observability.OpsTotal.WithLabelValues("burn", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetRoyalty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
		Bps       uint64 `json:"bps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.reg.SetRoyalty(caller(r), domain.Account(req.Recipient), req.Bps); err != nil {
		writeErr(w, "set_royalty", err)
		return
	}
	observability.OpsTotal.WithLabelValues("set_royalty", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"recipient": req.Recipient, "bps": req.Bps})
}

func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Pause(caller(r)); err != nil {
		writeErr(w, "pause", err)
		return
	}
	observability.OpsTotal.WithLabelValues("pause", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (h *Handlers) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Unpause(caller(r)); err != nil {
		writeErr(w, "unpause", err)
		return
	}
	observability.OpsTotal.WithLabelValues("unpause", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := h.reg.Withdraw(caller(r))
	if err != nil {
		writeErr(w, "withdraw", err)
		return
	}
	observability.OpsTotal.WithLabelValues("withdraw", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

func (h *Handlers) GrantRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.reg.GrantRole, "grant_role")
}

func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.reg.RevokeRole, "revoke_role")
}

func (h *Handlers) roleChange(w http.ResponseWriter, r *http.Request, op func(domain.Account, domain.Account, domain.Role) error, name string) {
	var req struct {
		Account string `json:"account"`
		Role    string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := op(caller(r), domain.Account(req.Account), domain.Role(req.Role)); err != nil {
		writeErr(w, name, err)
		return
	}
	observability.OpsTotal.WithLabelValues(name, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"account": req.Account, "role": req.Role})
}

func (h *Handlers) Deposit(w http.ResponseWriter, r *http.Request) {
	account := domain.Account(chi.URLParam(r, "account"))
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.reg.Ledger().Deposit(account, req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": string(account),
		"balance": h.reg.Ledger().Balance(account),
	})
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if h.cache != nil {
		if info, err := h.cache.GetTicketInfo(r.Context(), id); err == nil && info != nil {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}

	info, err := h.reg.TicketInfo(id)
	if err != nil {
		writeErr(w, "get_ticket", err)
		return
	}
	if h.cache != nil {
		h.cache.SetTicketInfo(r.Context(), info, ticketCacheTTL)
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := ticketID(r)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	owner, err := h.reg.OwnerOf(id)
	if err != nil {
		writeErr(w, "owner_of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket_id": id, "owner": string(owner)})
}

func (h *Handlers) GetRoles(w http.ResponseWriter, r *http.Request) {
	account := domain.Account(chi.URLParam(r, "account"))
	writeJSON(w, http.StatusOK, map[string]any{
		"account": string(account),
		"roles":   h.reg.RolesOf(account),
	})
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := domain.Account(chi.URLParam(r, "account"))
	writeJSON(w, http.StatusOK, map[string]any{
		"account": string(account),
		"balance": h.reg.Ledger().Balance(account),
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.reg.Paused() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("paused"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
