// Package workerclient is the HTTP client a state-worker container uses
// to report a completed transition to the control plane, following the
// EVENT_BUS_URL convention injected into every container (spec section
// 6). It mirrors the shape of the teacher's pkg/client package (a thin
// wrapper exposing one method per server operation and a bounded
// per-request timeout) translated from gRPC to the control plane's
// JSON/HTTP surface.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// requestTimeout bounds every call a worker makes back to the control
// plane, per spec section 5's client-timeout guidance.
const requestTimeout = 5 * time.Second

// Client calls a control plane's /transition endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client pointed at baseURL (typically the EVENT_BUS_URL
// environment variable injected into the container, e.g.
// "http://event-bus:5000").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// TransitionRequest is the body of a transition notification.
type TransitionRequest struct {
	MachineID      string                 `json:"machine_id"`
	TransitionName string                 `json:"transition_name"`
	EventData      map[string]interface{} `json:"event_data,omitempty"`
}

// TransitionResult is the decoded success response.
type TransitionResult struct {
	Status          string `json:"status"`
	MachineID       string `json:"machine_id"`
	OldState        string `json:"old_state"`
	NewState        string `json:"new_state"`
	TriggeredEvents int    `json:"triggered_events"`
}

// TransitionError is the decoded structured error response, returned by
// ExecuteTransition as the error's concrete type on any non-200 response
// so callers can inspect the status code, current state, and available
// transitions without parsing JSON again.
type TransitionError struct {
	StatusCode           int
	Message              string
	CurrentState         string
	AvailableTransitions []string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition request failed (%d): %s", e.StatusCode, e.Message)
}

// ExecuteTransition reports machineID's transitionName to the control
// plane, the same call a state-worker container makes when it finishes
// its work and is ready to hand off.
func (c *Client) ExecuteTransition(ctx context.Context, machineID, transitionName string, eventData map[string]interface{}) (*TransitionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(TransitionRequest{
		MachineID:      machineID,
		TransitionName: transitionName,
		EventData:      eventData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transition", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build transition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transition request to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error                string   `json:"error"`
			CurrentState         string   `json:"current_state"`
			AvailableTransitions []string `json:"available_transitions"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, &TransitionError{
			StatusCode:           resp.StatusCode,
			Message:              errBody.Error,
			CurrentState:         errBody.CurrentState,
			AvailableTransitions: errBody.AvailableTransitions,
		}
	}

	var result TransitionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode transition response: %w", err)
	}
	return &result, nil
}
