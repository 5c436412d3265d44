/*
handlers.go - HTTP API handlers for the booking transaction engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the guard/coordinator for all
  mutations.

ENDPOINTS:
  Resources (kind-agnostic):
    POST   /api/resources/{id}/operations  Submit an operation (idempotent)
    GET    /api/resources/{id}             Current snapshot
    GET    /api/resources/{id}/log         Entry log (?since_version=N)

  Rides:
    POST   /api/rides                      Create a ride offer
    GET    /api/rides                      Browse offers (?status=open)

  Parking:
    POST   /api/parking/sessions           Start a session
    GET    /api/parking/sessions           Browse sessions (?status=active)

  Points:
    POST   /api/points/accounts            Open a point account
    GET    /api/points/accounts/{id}       Account snapshot

  Operational:
    GET    /api/health                     Health incl. sweeper lag

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Build the mutation, submit through the guard
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, bad quantities
  - 404: Resource not found
  - 409: Contended commit, duplicate request in flight
  - 422: Oversubscribed, insufficient balance, invalid state
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go:    Request/response data structures
  - sweeper.go: The background expiry process
  - server.go:  Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/LynRJ/UrbanFlow/parking"
	"github.com/LynRJ/UrbanFlow/points"
	"github.com/LynRJ/UrbanFlow/rides"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   ledger.Store
	Guard   *ledger.Guard
	Metrics *ledger.Metrics

	// Sweeper is consulted by the health endpoint; may be nil.
	Sweeper *Sweeper

	now   func() time.Time
	newID func() string
}

// NewHandler creates a handler over the store and guard.
func NewHandler(store ledger.Store, guard *ledger.Guard, metrics *ledger.Metrics) *Handler {
	return &Handler{
		Store:   store,
		Guard:   guard,
		Metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// =============================================================================
// OPERATION SUBMISSION - the single mutation entry point
// =============================================================================

// SubmitOperation applies one named operation to a resource.
// POST /api/resources/{id}/operations
func (h *Handler) SubmitOperation(w http.ResponseWriter, r *http.Request) {
	id := ledger.ResourceID(chi.URLParam(r, "id"))

	var req OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required", nil)
		return
	}

	mutation, err := h.mutationFor(ledger.Operation(req.Operation), req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown operation", err)
		return
	}

	res, err := h.Guard.Submit(r.Context(), ledger.Request{
		RequestID:  ledger.RequestID(req.RequestID),
		ResourceID: id,
		Mutation:   mutation,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp, err := toOperationResponse(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// mutationFor maps an operation name and payload onto the matching domain
// mutation. The resource's own Compute rejects kind mismatches.
func (h *Handler) mutationFor(op ledger.Operation, p OperationPayload) (ledger.Mutation, error) {
	switch op {
	case ledger.OpBook:
		return rides.Book(p.Seats), nil
	case ledger.OpCancel:
		if p.Seats == 0 {
			return rides.CancelOffer(), nil
		}
		return rides.Release(p.Seats), nil
	case ledger.OpExtend:
		return parking.Extend(p.Hours), nil
	case ledger.OpExpire:
		return parking.Expire(h.now()), nil
	case ledger.OpPay:
		return parking.Pay(), nil
	case ledger.OpRedeem:
		return points.Redeem(p.Amount), nil
	case ledger.OpEarn:
		return points.Earn(p.Amount), nil
	default:
		return ledger.Mutation{}, errors.New("operation must be one of book, cancel, extend, expire, pay, redeem, earn")
	}
}

// =============================================================================
// RESOURCE READS
// =============================================================================

// GetResource returns the current snapshot of any ledger resource.
// GET /api/resources/{id}
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := ledger.ResourceID(chi.URLParam(r, "id"))

	acct, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dto, err := toResourceDTO(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetLog returns a resource's entry log.
// GET /api/resources/{id}/log?since_version=N
func (h *Handler) GetLog(w http.ResponseWriter, r *http.Request) {
	id := ledger.ResourceID(chi.URLParam(r, "id"))

	var sinceVersion int64
	if raw := r.URL.Query().Get("since_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "since_version must be a non-negative integer", err)
			return
		}
		sinceVersion = v
	}

	entries, err := h.Store.Log(r.Context(), id, sinceVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// RIDE HANDLERS
// =============================================================================

// CreateRide registers a new ride offer with every seat available.
// POST /api/rides
func (h *Handler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req CreateRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TotalSeats <= 0 {
		writeError(w, http.StatusBadRequest, "total_seats must be positive", nil)
		return
	}

	var departure time.Time
	if req.DepartureTime != "" {
		t, err := time.Parse(time.RFC3339, req.DepartureTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid departure_time format (use RFC 3339)", err)
			return
		}
		departure = t
	}

	seats := rides.NewSeats(req.TotalSeats)
	seats.DriverName = req.DriverName
	seats.FromCommunity = req.FromCommunity
	seats.ToCommunity = req.ToCommunity
	seats.DepartureTime = departure
	seats.PricePerSeat = req.PricePerSeat
	seats.VehicleInfo = req.VehicleInfo

	id := req.ID
	if id == "" {
		id = "ride-" + h.newID()
	}

	acct := ledger.Account{
		ID:        ledger.ResourceID(id),
		Kind:      ledger.KindRideSeats,
		State:     seats,
		UpdatedAt: h.now(),
	}
	if err := h.Store.Create(r.Context(), acct); err != nil {
		writeDomainError(w, err)
		return
	}

	dto, err := toResourceDTO(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListRides returns ride offers, optionally filtered by status.
// GET /api/rides?status=open
func (h *Handler) ListRides(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	accounts, err := h.Store.ListByKind(r.Context(), ledger.KindRideSeats)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rides", err)
		return
	}

	dtos := make([]ResourceDTO, 0, len(accounts))
	for _, acct := range accounts {
		if status != "" {
			seats, ok := acct.State.(*rides.Seats)
			if !ok || string(seats.Status) != status {
				continue
			}
		}
		dto, err := toResourceDTO(acct)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PARKING HANDLERS
// =============================================================================

// CreateParkingSession starts a prepaid parking session.
// POST /api/parking/sessions
func (h *Handler) CreateParkingSession(w http.ResponseWriter, r *http.Request) {
	var req CreateParkingSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time format (use RFC 3339)", err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_time format (use RFC 3339)", err)
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end_time must be after start_time", nil)
		return
	}
	if req.HourlyRate.IsNegative() {
		writeError(w, http.StatusBadRequest, "hourly_rate must not be negative", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = "session-" + h.newID()
	}

	acct := ledger.Account{
		ID:        ledger.ResourceID(id),
		Kind:      ledger.KindParkingWindow,
		State:     parking.NewWindow(req.SpotID, req.LocationName, start, end, req.HourlyRate),
		UpdatedAt: h.now(),
	}
	if err := h.Store.Create(r.Context(), acct); err != nil {
		writeDomainError(w, err)
		return
	}

	dto, err := toResourceDTO(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// ListParkingSessions returns sessions, optionally filtered by status.
// GET /api/parking/sessions?status=active
func (h *Handler) ListParkingSessions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	accounts, err := h.Store.ListByKind(r.Context(), ledger.KindParkingWindow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]ResourceDTO, 0, len(accounts))
	for _, acct := range accounts {
		if status != "" {
			window, ok := acct.State.(*parking.Window)
			if !ok || string(window.Status) != status {
				continue
			}
		}
		dto, err := toResourceDTO(acct)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// CreatePointsAccount opens a reward point account.
// POST /api/points/accounts
func (h *Handler) CreatePointsAccount(w http.ResponseWriter, r *http.Request) {
	var req CreatePointsAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OpeningBalance.IsNegative() {
		writeError(w, http.StatusBadRequest, "opening_balance must not be negative", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = "points-" + h.newID()
	}

	acct := ledger.Account{
		ID:        ledger.ResourceID(id),
		Kind:      ledger.KindPointBalance,
		State:     points.NewBalance(req.OpeningBalance),
		UpdatedAt: h.now(),
	}
	if err := h.Store.Create(r.Context(), acct); err != nil {
		writeDomainError(w, err)
		return
	}

	dto, err := toResourceDTO(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetPointsAccount returns a point account snapshot.
// GET /api/points/accounts/{id}
func (h *Handler) GetPointsAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.ResourceID(chi.URLParam(r, "id"))

	acct, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if acct.Kind != ledger.KindPointBalance {
		writeError(w, http.StatusNotFound, "Point account not found", nil)
		return
	}
	dto, err := toResourceDTO(acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode state", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness and sweeper freshness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	dto := HealthDTO{Status: "ok"}
	if h.Metrics != nil {
		dto.SweeperLagSecs = h.Metrics.SweeperLag(h.now()).Seconds()
	}
	if h.Sweeper != nil {
		dto.SweeperInterval = h.Sweeper.CheckInterval.String()
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors onto HTTP status codes. Structured
// errors keep their message, so the client sees "not enough seats:
// requested 3, available 1" rather than a generic failure.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: err.Error(), Code: "not_found",
		})
	case errors.Is(err, ledger.ErrDuplicateInFlight):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(), Code: "duplicate_in_flight",
		})
	case errors.Is(err, ledger.ErrContended):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(), Code: "contended",
		})
	case errors.Is(err, ledger.ErrOversubscribed):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(), Code: "oversubscribed",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(), Code: "insufficient_balance",
		})
	case errors.Is(err, ledger.ErrInvalidState):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(), Code: "invalid_state",
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(), Code: "invalid_amount",
		})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal error", Details: err.Error(),
		})
	}
}
