/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types that are
  already the stable contract (AttendanceRecord, ValidationResult, Anomaly,
  UsageReport) are returned as they are; the types here add request
  validation or response summaries around them.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  validate.Struct before converting to domain types. Attendance and event
  documents are NOT validated here: they go through the normalizer, which
  is the single parsing boundary for those.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: ValidationResult
*/
package api

import (
	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
)

// =============================================================================
// USERS
// =============================================================================

// CreateUserRequest creates or replaces a user profile. Numbers are kept as
// strings because certificate numbers carry leading zeros.
type CreateUserRequest struct {
	UserID           string        `json:"userId" validate:"omitempty,max=64"`
	DisplayName      string        `json:"displayName" validate:"required,max=100"`
	JukyushaNo       string        `json:"jukyushaNo" validate:"omitempty,numeric,max=20"`
	CityNo           string        `json:"cityNo" validate:"omitempty,numeric,max=20"`
	DaysSpecified    *int          `json:"daysSpecified" validate:"omitempty,min=0,max=31"`
	DecisionEndDate  *generic.Date `json:"decisionEndDate"`
	UpperLimitAmount *int64        `json:"upperLimitAmount" validate:"omitempty,min=0"`
	Active           bool          `json:"active"`
}

func (r CreateUserRequest) toEntitlement() billing.UserEntitlement {
	return billing.UserEntitlement{
		UserID:           generic.UserID(r.UserID),
		DisplayName:      r.DisplayName,
		JukyushaNo:       r.JukyushaNo,
		CityNo:           r.CityNo,
		DaysSpecified:    r.DaysSpecified,
		DecisionEndDate:  r.DecisionEndDate,
		UpperLimitAmount: r.UpperLimitAmount,
		Active:           r.Active,
	}
}

// UserDTO is a profile plus the required fields it still lacks.
type UserDTO struct {
	billing.UserEntitlement
	MissingFields []string `json:"missingFields"`
}

func toUserDTO(u billing.UserEntitlement) UserDTO {
	return UserDTO{UserEntitlement: u, MissingFields: u.MissingFields()}
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// CheckoutRequest records a departure on an existing record.
type CheckoutRequest struct {
	DepartureTime string `json:"departureTime" validate:"required"`
}

// ImportResultDTO reports a batch import. Rejected documents and failed
// saves never abort the batch.
type ImportResultDTO struct {
	Saved    []attendance.AttendanceRecord `json:"saved"`
	Rejected []RejectDTO                   `json:"rejected"`
}

// RejectDTO locates one rejected document in a batch.
type RejectDTO struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Error string `json:"error"`
}

// =============================================================================
// BILLING
// =============================================================================

// BillingRowDTO is a ValidationResult with its verdict spelled out.
type BillingRowDTO struct {
	billing.ValidationResult
	Passed  bool     `json:"passed"`
	Reasons []string `json:"reasons"`
}

// BillingReportDTO is the monthly check sheet.
type BillingReportDTO struct {
	Month   generic.YearMonth `json:"month"`
	Users   int               `json:"users"`
	Flagged int               `json:"flagged"`
	Results []BillingRowDTO   `json:"results"`
}

func toBillingReportDTO(month generic.YearMonth, results []billing.ValidationResult) BillingReportDTO {
	dto := BillingReportDTO{
		Month:   month,
		Users:   len(results),
		Results: make([]BillingRowDTO, 0, len(results)),
	}
	for _, r := range results {
		reasons := r.Reasons()
		if reasons == nil {
			reasons = []string{}
		}
		row := BillingRowDTO{ValidationResult: r, Passed: r.Passed(), Reasons: reasons}
		if !row.Passed {
			dto.Flagged++
		}
		dto.Results = append(dto.Results, row)
	}
	return dto
}

// =============================================================================
// ALERTS
// =============================================================================

// AlertsDTO is the dashboard alert list for a window ending before AsOf.
type AlertsDTO struct {
	From      generic.Date                   `json:"from"`
	AsOf      generic.Date                   `json:"asOf"`
	Counts    map[attendance.AnomalyKind]int `json:"counts"`
	Anomalies []attendance.Anomaly           `json:"anomalies"`
}

// AlertRunsDTO lists recent scheduler passes, newest first.
type AlertRunsDTO struct {
	Runs []store.AlertRun `json:"runs"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
