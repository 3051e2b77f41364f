package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesurveillance/eventbus/pkg/cluster/sim"
	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/controlplane"
	"github.com/edgesurveillance/eventbus/pkg/registry"
	"github.com/edgesurveillance/eventbus/pkg/rules"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

func testMachine(t *testing.T, id string, cfg registry.MachineConfig) *registry.Machine {
	t.Helper()
	m, err := registry.NewMachine(id, cfg)
	require.NoError(t, err)
	return m
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	detector := testMachine(t, "detector", registry.MachineConfig{
		States: map[string]registry.StateConfig{
			"capturing":  {ContainerImage: "cap"},
			"processing": {ContainerImage: "proc"},
		},
		Transitions: []registry.TransitionConfig{
			{Name: "image_captured", FromState: "capturing", ToState: "processing"},
			{Name: "person_detected", FromState: "processing", ToState: "capturing"},
		},
		InitialState: "capturing",
	})

	reg := registry.New()
	reg.AddMachine(detector)

	rulesEngine := rules.New([]types.Rule{})
	driver := sim.New()
	containers := containermanager.New(driver, containermanager.Config{SettleDelay: 0})
	broker := controlplane.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	orchestrator := controlplane.New(reg, rulesEngine, containers, broker)

	return NewServer(orchestrator, reg, containers, driver)
}

func TestHandleTransitionSuccess(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(transitionRequest{MachineID: "detector", TransitionName: "image_captured"})
	req := httptest.NewRequest("POST", "/transition", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp transitionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "processing", resp.NewState)
}

func TestHandleTransitionInvalidReturns400(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(transitionRequest{MachineID: "detector", TransitionName: "person_detected"})
	req := httptest.NewRequest("POST", "/transition", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
	var resp transitionErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"image_captured"}, resp.AvailableTransitions)
}

func TestHandleTransitionUnknownMachineReturns500(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(transitionRequest{MachineID: "nope", TransitionName: "x"})
	req := httptest.NewRequest("POST", "/transition", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 500, w.Code)
	var resp transitionErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unknown_machine", resp.Error)
}

func TestHandleTransitionRejectsGet(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/transition", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 405, w.Code)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp map[string]machineStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Contains(t, resp, "detector")
	assert.Equal(t, "capturing", resp["detector"].CurrentState)
	assert.Len(t, resp["detector"].AvailableTransitions, 1)
}

func TestHandleNodes(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/nodes", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestHandleSwarm(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/swarm", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	var resp swarmStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "sim-local", resp.NodeID)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	s.mux.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
}
