/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (date formats, decimal parsing, unknown fields)
  is done here and in handlers; business validation lives in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - recurrence/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/Nicolas-Jorq/budget-app-sub003/recurrence"
	"github.com/Nicolas-Jorq/budget-app-sub003/store/sqlite"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// DefinitionDTO represents a recurring definition in API responses.
type DefinitionDTO struct {
	ID              string  `json:"id"`
	Amount          string  `json:"amount"`
	Category        string  `json:"category,omitempty"`
	Description     string  `json:"description,omitempty"`
	Type            string  `json:"type"`
	Frequency       string  `json:"frequency"`
	Interval        int     `json:"interval"`
	StartDate       string  `json:"start_date"`
	EndDate         *string `json:"end_date,omitempty"`
	NextOccurrence  string  `json:"next_occurrence"`
	Status          string  `json:"status"`
	OccurrenceCount int     `json:"occurrence_count"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// CreateDefinitionRequest is the request to create a definition.
type CreateDefinitionRequest struct {
	Amount      string  `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Frequency   string  `json:"frequency"`
	Interval    int     `json:"interval"`
	StartDate   string  `json:"start_date"`
	EndDate     *string `json:"end_date,omitempty"`
}

// UpdateDefinitionRequest is a partial update. Absent fields are left
// unchanged. start_date and occurrence_count are rejected if present.
type UpdateDefinitionRequest struct {
	Amount      *string `json:"amount,omitempty"`
	Category    *string `json:"category,omitempty"`
	Description *string `json:"description,omitempty"`
	Type        *string `json:"type,omitempty"`
	Frequency   *string `json:"frequency,omitempty"`
	Interval    *int    `json:"interval,omitempty"`
	EndDate     *string `json:"end_date,omitempty"`
	ClearEnd    bool    `json:"clear_end_date,omitempty"`
	Status      *string `json:"status,omitempty"`

	// Immutable fields; their presence is a validation error.
	StartDate       *string `json:"start_date,omitempty"`
	OccurrenceCount *int    `json:"occurrence_count,omitempty"`
}

// GeneratedTransactionDTO represents a generated transaction.
type GeneratedTransactionDTO struct {
	ID                 string `json:"id"`
	Amount             string `json:"amount"`
	Category           string `json:"category,omitempty"`
	Description        string `json:"description,omitempty"`
	Type               string `json:"type"`
	SourceDefinitionID string `json:"source_definition_id"`
	OccurrenceDate     string `json:"occurrence_date"`
	CreatedAt          string `json:"created_at,omitempty"`
}

// ProcessDueRequest triggers due processing. as_of defaults to today.
type ProcessDueRequest struct {
	AsOf *string `json:"as_of,omitempty"`
}

// ProcessDueResponse reports the outcome of a due-processing run.
type ProcessDueResponse struct {
	Generated           []GeneratedTransactionDTO `json:"generated"`
	DefinitionsAdvanced int                       `json:"definitions_advanced"`
	Failed              []DefinitionFailureDTO    `json:"failed,omitempty"`
}

// DefinitionFailureDTO identifies a definition excluded from a batch.
type DefinitionFailureDTO struct {
	DefinitionID string `json:"definition_id"`
	Error        string `json:"error"`
}

// UpcomingResponse is the forecast of upcoming occurrence dates.
type UpcomingResponse struct {
	DefinitionID string   `json:"definition_id"`
	Horizon      string   `json:"horizon"`
	Occurrences  []string `json:"occurrences"`
}

// ProcessingRunDTO represents a scheduled processing run record.
type ProcessingRunDTO struct {
	ID          string `json:"id"`
	AsOf        string `json:"as_of"`
	Status      string `json:"status"`
	Generated   int    `json:"generated"`
	Advanced    int    `json:"advanced"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toDefinitionDTO(def recurrence.Definition) DefinitionDTO {
	dto := DefinitionDTO{
		ID:              string(def.ID),
		Amount:          def.Amount.String(),
		Category:        def.Category,
		Description:     def.Description,
		Type:            string(def.Type),
		Frequency:       string(def.Frequency),
		Interval:        def.Interval,
		StartDate:       def.StartDate.String(),
		NextOccurrence:  def.NextOccurrence.String(),
		Status:          string(def.Status),
		OccurrenceCount: def.OccurrenceCount,
		CreatedAt:       def.CreatedAt.String(),
		UpdatedAt:       def.UpdatedAt.String(),
	}
	if def.EndDate != nil {
		end := def.EndDate.String()
		dto.EndDate = &end
	}
	return dto
}

func toTransactionDTO(tx recurrence.GeneratedTransaction) GeneratedTransactionDTO {
	return GeneratedTransactionDTO{
		ID:                 string(tx.ID),
		Amount:             tx.Amount.String(),
		Category:           tx.Category,
		Description:        tx.Description,
		Type:               string(tx.Type),
		SourceDefinitionID: string(tx.SourceDefinitionID),
		OccurrenceDate:     tx.OccurrenceDate.String(),
		CreatedAt:          tx.CreatedAt.String(),
	}
}

func toTransactionDTOs(txs []recurrence.GeneratedTransaction) []GeneratedTransactionDTO {
	dtos := make([]GeneratedTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toProcessingRunDTO(run sqlite.ProcessingRun) ProcessingRunDTO {
	dto := ProcessingRunDTO{
		ID:        run.ID,
		AsOf:      run.AsOf.Format(time.RFC3339),
		Status:    run.Status,
		Generated: run.Generated,
		Advanced:  run.Advanced,
		Failed:    run.Failed,
		Error:     run.Error,
	}
	if run.StartedAt != nil {
		dto.StartedAt = run.StartedAt.Format(time.RFC3339)
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
