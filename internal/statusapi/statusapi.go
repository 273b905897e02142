// Package statusapi serves the deployment ledger over HTTP, read-only.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/animus-labs/animus-deploy/internal/domain"
	"github.com/animus-labs/animus-deploy/internal/platform/httpserver"
)

const maxLimit = 1000

// Reader is the query side of the ledger.
type Reader interface {
	GetDeployStatus(ctx context.Context, id string) (domain.DeploymentRecord, error)
	GetDeploymentHistory(ctx context.Context, env domain.Environment, limit int) ([]domain.DeploymentRecord, error)
}

type API struct {
	logger *slog.Logger
	reader Reader
}

func New(logger *slog.Logger, reader Reader) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, reader: reader}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /deployments", api.handleListDeployments)
	mux.HandleFunc("GET /deployments/{deployment_id}", api.handleGetDeployment)
}

func (api *API) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("deployment_id"))
	if id == "" {
		httpserver.WriteError(w, r, http.StatusBadRequest, "deployment_id_required")
		return
	}
	rec, err := api.reader.GetDeployStatus(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "deployment_not_found")
		return
	case err != nil:
		api.logger.Error("get deployment failed", "deployment_id", id, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rec)
}

func (api *API) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	var env domain.Environment
	if raw := strings.TrimSpace(r.URL.Query().Get("environment")); raw != "" {
		parsed, err := domain.ParseEnvironment(raw)
		if err != nil {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_environment")
			return
		}
		env = parsed
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_limit")
		return
	}

	records, err := api.reader.GetDeploymentHistory(r.Context(), env, limit)
	if err != nil {
		api.logger.Error("list deployments failed", "environment", env, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	if records == nil {
		records = []domain.DeploymentRecord{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"deployments": records})
}

// parseLimit returns 0 (ledger default) for an empty value.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if v > maxLimit {
		v = maxLimit
	}
	return v, nil
}
