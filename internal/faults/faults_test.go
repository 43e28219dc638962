package faults

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("classify: %w", ErrClassifierContractViolation), "classifier_contract_violation", http.StatusBadGateway},
		{fmt.Errorf("evolve: %w", ErrConcurrentEvolutionConflict), "concurrent_evolution_conflict", http.StatusConflict},
		{ErrStoreUnavailable, "store_unavailable", http.StatusServiceUnavailable},
		{ErrInvalidInput, "invalid_input", http.StatusBadRequest},
		{ErrNotFound, "not_found", http.StatusNotFound},
		{ErrMalformedModelOutput, "malformed_model_output", http.StatusBadGateway},
		{ErrCollaboratorTimeout, "collaborator_timeout", http.StatusGatewayTimeout},
		{errors.New("boom"), "internal", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.kind, Kind(tc.err), "kind for %v", tc.err)
		assert.Equal(t, tc.status, HTTPStatus(tc.err), "status for %v", tc.err)
	}
	assert.Equal(t, "", Kind(nil))
}

func TestTimeoutWrapsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := Timeout("search", ctx.Err())
	assert.ErrorIs(t, err, ErrCollaboratorTimeout)
	assert.Contains(t, err.Error(), "search")

	plain := errors.New("status 500")
	assert.Same(t, plain, Timeout("search", plain))
	assert.NoError(t, Timeout("search", nil))
}
