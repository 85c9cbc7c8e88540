package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/BimaPangestu28/Syntra-sub003/internal/domain"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
)

func (r *Router) handleStrategy(w http.ResponseWriter, req *http.Request, serviceID string) {
	switch req.Method {
	case http.MethodGet:
		r.handleGetStrategy(w, req, serviceID)
	case http.MethodPut:
		r.handlePutStrategy(w, req, serviceID)
	case http.MethodPost:
		r.handleStrategyAction(w, req, serviceID)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGetStrategy(w http.ResponseWriter, req *http.Request, serviceID string) {
	s, configured, err := r.strategies.Get(req.Context(), serviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, strategyView(s, configured))
}

func (r *Router) handlePutStrategy(w http.ResponseWriter, req *http.Request, serviceID string) {
	var payload struct {
		Strategy               string   `json:"strategy"`
		CanarySteps            []int    `json:"canary_steps"`
		CanaryAutoPromote      *bool    `json:"canary_auto_promote"`
		CanaryAutoPromoteDelay *int     `json:"canary_auto_promote_delay"`
		CanaryErrorThreshold   *float64 `json:"canary_error_threshold"`
		CanaryLatencyThreshold *float64 `json:"canary_latency_threshold"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	s, err := r.strategies.Configure(req.Context(), serviceID, strategy.ConfigureRequest{
		Strategy:               domain.StrategyType(payload.Strategy),
		CanarySteps:            payload.CanarySteps,
		CanaryAutoPromote:      payload.CanaryAutoPromote,
		CanaryAutoPromoteDelay: payload.CanaryAutoPromoteDelay,
		CanaryErrorThreshold:   payload.CanaryErrorThreshold,
		CanaryLatencyThreshold: payload.CanaryLatencyThreshold,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeData(w, http.StatusOK, strategyView(s, true))
}

func (r *Router) handleStrategyAction(w http.ResponseWriter, req *http.Request, serviceID string) {
	var payload struct {
		Action       string `json:"action"`
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}

	ctx := req.Context()
	switch payload.Action {
	case "switch":
		result, err := r.strategies.Switch(ctx, serviceID, payload.DeploymentID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"previous_color": result.PreviousColor,
			"new_color":      result.NewColor,
		})
	case "rollback":
		result, err := r.strategies.Rollback(ctx, serviceID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"previous_color": result.PreviousColor,
			"new_color":      result.NewColor,
		})
	case "canary_start":
		result, err := r.strategies.CanaryStart(ctx, serviceID, payload.DeploymentID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"weight":      result.Weight,
			"is_complete": result.IsComplete,
		})
	case "canary_advance":
		result, err := r.strategies.CanaryAdvance(ctx, serviceID)
		if err != nil {
			respondError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"weight":      result.Weight,
			"is_complete": result.IsComplete,
		})
	case "canary_abort":
		if err := r.strategies.CanaryAbort(ctx, serviceID); err != nil {
			respondError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"aborted": true})
	default:
		writeError(w, http.StatusBadRequest, "validation_error", "unknown action "+payload.Action)
	}
}

func strategyView(s *domain.DeploymentStrategy, configured bool) map[string]any {
	view := map[string]any{
		"strategy":      s.Strategy,
		"is_configured": configured,
		"is_active":     false,
	}
	if !configured {
		return view
	}
	switch s.Strategy {
	case domain.StrategyBlueGreen:
		view["blue_deployment_id"] = s.BlueDeploymentID
		view["green_deployment_id"] = s.GreenDeploymentID
		view["active_color"] = s.ActiveColor
		view["previous_color"] = s.PreviousColor
		view["last_switched_at"] = s.LastSwitchedAt
		view["is_active"] = s.ActiveColor != nil
	case domain.StrategyCanary:
		view["canary_deployment_id"] = s.CanaryDeploymentID
		view["canary_weight"] = s.CanaryWeight
		view["canary_steps"] = s.CanarySteps
		view["canary_current_step"] = s.CanaryCurrentStep
		view["canary_auto_promote"] = s.CanaryAutoPromote
		view["canary_auto_promote_delay"] = s.CanaryAutoPromoteDelay
		view["canary_error_threshold"] = s.CanaryErrorThreshold
		view["canary_latency_threshold"] = s.CanaryLatencyThreshold
		view["canary_started_at"] = s.CanaryStartedAt
		view["is_active"] = s.CanaryActive()
	}
	return view
}
