// Package faults defines the error kinds shared by every recurve component.
// Callers wrap these with fmt.Errorf("...: %w", err) and test with errors.Is.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCollaboratorTimeout         = errors.New("collaborator timeout")
	ErrMalformedModelOutput        = errors.New("malformed model output")
	ErrClassifierContractViolation = errors.New("classifier contract violation")
	ErrConcurrentEvolutionConflict = errors.New("concurrent evolution conflict")
	ErrStoreUnavailable            = errors.New("knowledge store unavailable")
	ErrInvalidInput                = errors.New("invalid input")
	ErrNotFound                    = errors.New("not found")
)

// Kind returns a stable snake_case name for err, used in agent_error
// payloads and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCollaboratorTimeout):
		return "collaborator_timeout"
	case errors.Is(err, ErrMalformedModelOutput):
		return "malformed_model_output"
	case errors.Is(err, ErrClassifierContractViolation):
		return "classifier_contract_violation"
	case errors.Is(err, ErrConcurrentEvolutionConflict):
		return "concurrent_evolution_conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "concurrent_evolution_conflict":
		return http.StatusConflict
	case "malformed_model_output", "classifier_contract_violation":
		return http.StatusBadGateway
	case "collaborator_timeout":
		return http.StatusGatewayTimeout
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Timeout converts a context deadline into ErrCollaboratorTimeout, naming
// the collaborator. Other errors pass through unchanged.
func Timeout(collaborator string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", collaborator, ErrCollaboratorTimeout, err)
	}
	return err
}
