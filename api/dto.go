/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  Defines the JSON structures served by the read-only ledger API. These
  types decouple the ledger model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Wrappers and errors

AMOUNTS:
  Account amounts use the report's four-place rendering so the API and the
  CSV snapshot agree. Dispute and event amounts are exact decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
  - report/report.go: Row rendering
*/
package api

import (
	"time"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/report"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents one client account.
type AccountDTO = report.Row

// DisputeDTO represents a dispute record in any status.
type DisputeDTO struct {
	ClientID uint16 `json:"client"`
	EventID  uint32 `json:"tx"`
	Amount   string `json:"amount"`
	Status   string `json:"status"`
}

// EventDTO represents a settled deposit or withdrawal.
type EventDTO struct {
	EventID  uint32 `json:"tx"`
	ClientID uint16 `json:"client"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
}

// RunDTO represents one recorded batch run.
type RunDTO struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Read       int       `json:"read"`
	Applied    int       `json:"applied"`
	Discarded  int       `json:"discarded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toAccountDTOs(accts []ledger.Account) []AccountDTO {
	dtos := make([]AccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = report.NewRow(a)
	}
	return dtos
}

func toDisputeDTOs(recs []ledger.DisputeRecord) []DisputeDTO {
	dtos := make([]DisputeDTO, len(recs))
	for i, d := range recs {
		dtos[i] = DisputeDTO{
			ClientID: uint16(d.ClientID),
			EventID:  uint32(d.EventID),
			Amount:   d.Amount.String(),
			Status:   string(d.Status),
		}
	}
	return dtos
}

func toEventDTOs(entries []ledger.EventLogEntry) []EventDTO {
	dtos := make([]EventDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EventDTO{
			EventID:  uint32(e.EventID),
			ClientID: uint16(e.ClientID),
			Kind:     string(e.Kind),
			Amount:   e.Amount.String(),
		}
	}
	return dtos
}

func toRunDTOs(runs []ledger.RunSummary) []RunDTO {
	dtos := make([]RunDTO, len(runs))
	for i, r := range runs {
		dtos[i] = RunDTO{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Read:       r.Read,
			Applied:    r.Applied,
			Discarded:  r.Discarded,
			Failed:     r.Failed,
			Skipped:    r.Skipped,
		}
	}
	return dtos
}
