package workerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTransitionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transition", r.URL.Path)
		var req TransitionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "detector", req.MachineID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TransitionResult{
			Status:          "success",
			MachineID:       "detector",
			OldState:        "capturing",
			NewState:        "processing",
			TriggeredEvents: 0,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ExecuteTransition(context.Background(), "detector", "image_captured", nil)
	require.NoError(t, err)
	assert.Equal(t, "processing", result.NewState)
}

func TestExecuteTransitionInvalidReturnsTransitionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":                "error",
			"error":                 "invalid transition",
			"current_state":         "capturing",
			"available_transitions": []string{"image_captured"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ExecuteTransition(context.Background(), "detector", "person_detected", nil)
	require.Error(t, err)

	var transErr *TransitionError
	require.ErrorAs(t, err, &transErr)
	assert.Equal(t, http.StatusBadRequest, transErr.StatusCode)
	assert.Equal(t, []string{"image_captured"}, transErr.AvailableTransitions)
}
