/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Resources:
    ResourceDTO, EntryDTO, OperationRequest, OperationResponse

  Rides:
    CreateRideRequest

  Parking:
    CreateParkingSessionRequest

  Points:
    CreatePointsAccountRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
  Quantities use decimal.Decimal, which unmarshals both JSON numbers and
  strings without float drift.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The internal model these project
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/LynRJ/UrbanFlow/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESOURCE TYPES
// =============================================================================

// ResourceDTO is the snapshot view of one ledger account. State carries the
// kind-specific fields verbatim.
type ResourceDTO struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Version   int64           `json:"version"`
	State     json.RawMessage `json:"state"`
	UpdatedAt string          `json:"updated_at"`
}

// EntryDTO is one committed ledger entry.
type EntryDTO struct {
	EntryID          string `json:"entry_id"`
	ResourceID       string `json:"resource_id"`
	RequestID        string `json:"request_id,omitempty"`
	Operation        string `json:"operation"`
	Delta            string `json:"delta"`
	ResultingVersion int64  `json:"resulting_version"`
	Timestamp        string `json:"timestamp"`
}

// OperationRequest is the body of the single mutation endpoint. The payload
// fields are operation-specific; unused ones are simply omitted.
type OperationRequest struct {
	RequestID string           `json:"request_id"`
	Operation string           `json:"operation"`
	Payload   OperationPayload `json:"payload"`
}

// OperationPayload carries the per-operation quantities.
//
//	book, cancel  -> seats  (cancel with seats 0 withdraws the whole offer)
//	extend        -> hours
//	redeem, earn  -> amount
//	expire, pay   -> (no payload)
type OperationPayload struct {
	Seats  int64           `json:"seats,omitempty"`
	Hours  decimal.Decimal `json:"hours,omitempty"`
	Amount decimal.Decimal `json:"amount,omitempty"`
}

// OperationResponse reports a committed (or replayed) operation.
type OperationResponse struct {
	ResourceID string          `json:"resource_id"`
	State      json.RawMessage `json:"state"`
	Version    int64           `json:"version"`
	EntryID    string          `json:"entry_id"`
}

// =============================================================================
// CREATION TYPES
// =============================================================================

// CreateRideRequest creates a ride offer. ID is optional; the server
// generates one when absent.
type CreateRideRequest struct {
	ID            string          `json:"id,omitempty"`
	DriverName    string          `json:"driver_name"`
	FromCommunity string          `json:"from_community"`
	ToCommunity   string          `json:"to_community"`
	DepartureTime string          `json:"departure_time"` // RFC 3339
	TotalSeats    int64           `json:"total_seats"`
	PricePerSeat  decimal.Decimal `json:"price_per_seat"`
	VehicleInfo   string          `json:"vehicle_info,omitempty"`
}

// CreateParkingSessionRequest starts a parking session.
type CreateParkingSessionRequest struct {
	ID           string          `json:"id,omitempty"`
	SpotID       string          `json:"spot_id"`
	LocationName string          `json:"location_name,omitempty"`
	StartTime    string          `json:"start_time"` // RFC 3339
	EndTime      string          `json:"end_time"`   // RFC 3339
	HourlyRate   decimal.Decimal `json:"hourly_rate"`
}

// CreatePointsAccountRequest opens a point account.
type CreatePointsAccountRequest struct {
	ID             string          `json:"id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// HealthDTO is the /api/health payload.
type HealthDTO struct {
	Status          string  `json:"status"`
	SweeperLagSecs  float64 `json:"sweeper_lag_seconds"`
	SweeperInterval string  `json:"sweeper_interval"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toResourceDTO(acct ledger.Account) (ResourceDTO, error) {
	stateJSON, err := ledger.EncodeState(acct.State)
	if err != nil {
		return ResourceDTO{}, err
	}
	return ResourceDTO{
		ID:        string(acct.ID),
		Kind:      string(acct.Kind),
		Version:   acct.Version,
		State:     stateJSON,
		UpdatedAt: acct.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		EntryID:          string(e.EntryID),
		ResourceID:       string(e.ResourceID),
		RequestID:        string(e.RequestID),
		Operation:        string(e.Operation),
		Delta:            e.Delta.String(),
		ResultingVersion: e.ResultingVersion,
		Timestamp:        e.Timestamp.Format(time.RFC3339Nano),
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toOperationResponse(res ledger.Result) (OperationResponse, error) {
	stateJSON, err := ledger.EncodeState(res.State)
	if err != nil {
		return OperationResponse{}, err
	}
	return OperationResponse{
		ResourceID: string(res.ResourceID),
		State:      stateJSON,
		Version:    res.Version,
		EntryID:    string(res.EntryID),
	}, nil
}
