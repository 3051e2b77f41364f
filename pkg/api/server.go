package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgesurveillance/eventbus/pkg/cluster"
	"github.com/edgesurveillance/eventbus/pkg/containermanager"
	"github.com/edgesurveillance/eventbus/pkg/controlplane"
	"github.com/edgesurveillance/eventbus/pkg/log"
	"github.com/edgesurveillance/eventbus/pkg/metrics"
	"github.com/edgesurveillance/eventbus/pkg/registry"
	"github.com/edgesurveillance/eventbus/pkg/types"
)

// requestTimeout bounds every handler; exceeding it returns 503 via
// http.TimeoutHandler, per spec section 5.
const requestTimeout = 90 * time.Second

// Server serves the control plane's HTTP API over the orchestrator,
// registry, container manager, and cluster driver it is constructed
// with.
type Server struct {
	orchestrator *controlplane.Orchestrator
	registry     *registry.Registry
	containers   *containermanager.Manager
	driver       cluster.Driver
	logger       zerolog.Logger
	mux          *http.ServeMux
}

// NewServer wires every handler onto a fresh ServeMux.
func NewServer(orchestrator *controlplane.Orchestrator, reg *registry.Registry, containers *containermanager.Manager, driver cluster.Driver) *Server {
	s := &Server{
		orchestrator: orchestrator,
		registry:     reg,
		containers:   containers,
		driver:       driver,
		logger:       log.WithComponent("api"),
		mux:          http.NewServeMux(),
	}

	s.mux.HandleFunc("/transition", s.handleTransition)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/nodes", s.handleNodes)
	s.mux.HandleFunc("/swarm", s.handleSwarm)
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/ready", metrics.ReadyHandler())
	s.mux.Handle("/live", metrics.LivenessHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the fully wired handler, wrapped with request-id
// logging and the request-wide deadline.
func (s *Server) Handler() http.Handler {
	return http.TimeoutHandler(s.withRequestLogging(s.mux), requestTimeout, `{"status":"error","error":"request timed out"}`)
}

// Start blocks serving addr until the process is stopped or ctx is
// canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("control plane API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		next.ServeHTTP(w, r)

		metrics.APIRequestsTotal.WithLabelValues(r.URL.Path, "handled").Inc()
		metrics.APIRequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	})
}

// transitionRequest is the POST /transition body.
type transitionRequest struct {
	MachineID      string                 `json:"machine_id"`
	TransitionName string                 `json:"transition_name"`
	EventData      map[string]interface{} `json:"event_data"`
}

type transitionResponse struct {
	Status          string `json:"status"`
	MachineID       string `json:"machine_id"`
	OldState        string `json:"old_state"`
	NewState        string `json:"new_state"`
	TriggeredEvents int    `json:"triggered_events"`
}

type transitionErrorResponse struct {
	Status               string   `json:"status"`
	Error                string   `json:"error"`
	CurrentState         string   `json:"current_state,omitempty"`
	AvailableTransitions []string `json:"available_transitions,omitempty"`
}

// handleTransition implements spec section 4.5's ordered sequence via
// Orchestrator.ExecuteTransition.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, transitionErrorResponse{
			Status: "error",
			Error:  "invalid request body: " + err.Error(),
		})
		return
	}

	result, err := s.orchestrator.ExecuteTransition(r.Context(), req.MachineID, req.TransitionName, req.EventData)
	if err != nil {
		var invalidErr *types.InvalidTransitionError
		if errors.As(err, &invalidErr) {
			writeJSON(w, http.StatusBadRequest, transitionErrorResponse{
				Status:               "error",
				Error:                err.Error(),
				CurrentState:         invalidErr.CurrentState,
				AvailableTransitions: invalidErr.AvailableTransitions,
			})
			return
		}
		if errors.Is(err, types.ErrUnknownMachine) {
			writeJSON(w, http.StatusInternalServerError, transitionErrorResponse{Status: "error", Error: "unknown_machine"})
			return
		}
		if errors.Is(err, types.ErrUnknownTransition) {
			writeJSON(w, http.StatusInternalServerError, transitionErrorResponse{Status: "error", Error: "unknown_transition"})
			return
		}
		s.logger.Error().Err(err).Str("machine_id", req.MachineID).Msg("transition failed")
		writeJSON(w, http.StatusInternalServerError, transitionErrorResponse{Status: "error", Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		Status:          "success",
		MachineID:       result.MachineID,
		OldState:        result.OldState.Name,
		NewState:        result.NewState.Name,
		TriggeredEvents: result.TriggeredEvents,
	})
}

type machineStatus struct {
	CurrentState         string                      `json:"current_state"`
	ContainerImage       string                      `json:"container_image"`
	ContainerStatus      string                      `json:"container_status"`
	AvailableTransitions []availableTransitionStatus `json:"available_transitions"`
}

type availableTransitionStatus struct {
	Name         string `json:"name"`
	ToState      string `json:"to_state"`
	TriggerEvent string `json:"trigger_event,omitempty"`
}

// handleStatus implements GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	out := make(map[string]machineStatus)
	for _, machineID := range s.registry.MachineIDs() {
		current, err := s.registry.CurrentState(machineID)
		if err != nil {
			continue
		}
		available, err := s.registry.AvailableTransitions(machineID)
		if err != nil {
			continue
		}

		transitions := make([]availableTransitionStatus, len(available))
		for i, t := range available {
			transitions[i] = availableTransitionStatus{Name: t.Name, ToState: t.ToState, TriggerEvent: t.TriggerEvent}
		}

		containerStatus := s.containers.Status(r.Context(), machineID)

		out[machineID] = machineStatus{
			CurrentState:         current.Name,
			ContainerImage:       current.ContainerImage,
			ContainerStatus:      containerStatus.Status,
			AvailableTransitions: transitions,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

type nodeStatus struct {
	NodeID       string            `json:"node_id"`
	Status       string            `json:"status"`
	Availability string            `json:"availability"`
	NanoCPUs     int64             `json:"nano_cpus"`
	MemoryBytes  int64             `json:"memory_bytes"`
	RunningTasks int               `json:"running_tasks"`
	Labels       map[string]string `json:"labels"`
}

// handleNodes implements GET /nodes.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodes, err := s.containers.NodeResources(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list node resources")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "internal error"})
		return
	}

	out := make(map[string]nodeStatus, len(nodes))
	for hostname, n := range nodes {
		out[hostname] = nodeStatus{
			NodeID:       n.NodeID,
			Status:       n.Status,
			Availability: n.Availability,
			NanoCPUs:     n.NanoCPUs,
			MemoryBytes:  n.MemoryBytes,
			RunningTasks: n.RunningTasks,
			Labels:       n.Labels,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

type swarmStatus struct {
	NodeID           string `json:"node_id"`
	NodeAddr         string `json:"node_addr"`
	LocalNodeState   string `json:"local_node_state"`
	ControlAvailable bool   `json:"control_available"`
	Managers         int    `json:"managers"`
	Nodes            int    `json:"nodes"`
}

// handleSwarm implements GET /swarm.
func (s *Server) handleSwarm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := s.driver.ClusterInfo(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to get cluster info")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, swarmStatus{
		NodeID:           info.LocalNodeID,
		NodeAddr:         info.LocalNodeAddr,
		LocalNodeState:   info.LocalNodeState,
		ControlAvailable: info.ControlAvailable,
		Managers:         info.Managers,
		Nodes:            info.Nodes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
