package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aistack/plugin-registry/pkg/ledger"
	"github.com/aistack/plugin-registry/pkg/lifecycle"
	"github.com/aistack/plugin-registry/pkg/pluginpkg"
	"github.com/aistack/plugin-registry/pkg/registry"
	"github.com/aistack/plugin-registry/pkg/resolver"
	"github.com/aistack/plugin-registry/pkg/tasks"
	"github.com/aistack/plugin-registry/pkg/tenancy"
)

// maxUploadBytes bounds package uploads (64 MiB).
const maxUploadBytes = 64 << 20

// sourceRequest is the JSON form of a package source for install requests.
type sourceRequest struct {
	Path          string `json:"path,omitempty"`
	URL           string `json:"url,omitempty"`
	MarketplaceID string `json:"marketplaceId,omitempty"`
}

func (sr sourceRequest) toSource() (lifecycle.Source, error) {
	set := 0
	for _, v := range []string{sr.Path, sr.URL, sr.MarketplaceID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return lifecycle.Source{}, fmt.Errorf("exactly one of path, url, or marketplaceId must be set")
	}
	return lifecycle.Source{Path: sr.Path, URL: sr.URL, MarketplaceID: sr.MarketplaceID}, nil
}

// sourceFromRequest builds an install source from the request: multipart
// form uploads carry the package in the "file" field; JSON bodies name a
// path, URL, or marketplace reference.
func sourceFromRequest(r *http.Request) (lifecycle.Source, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return lifecycle.Source{}, fmt.Errorf("parse multipart form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return lifecycle.Source{}, fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			return lifecycle.Source{}, fmt.Errorf("read upload: %w", err)
		}
		return lifecycle.Source{FileName: header.Filename, Bytes: data}, nil
	}

	var sr sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		return lifecycle.Source{}, fmt.Errorf("decode install request: %w", err)
	}
	return sr.toSource()
}

// previewHandler handles POST /packages:preview. It parses the uploaded
// package and returns the descriptor without touching the registry or
// the ledger.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	src, err := sourceFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(src.Bytes) == 0 {
		writeError(w, http.StatusBadRequest, "preview requires a package upload")
		return
	}

	desc, err := s.controller.Preview(src.Bytes, src.FileName)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// installHandler handles POST /installations.
func (s *Server) installHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())

	src, err := sourceFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.controller.Install(r.Context(), tenantID, src)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	s.cache.InvalidateTenant(tenantID)

	status := http.StatusCreated
	if result.AlreadyInstalled {
		status = http.StatusOK
	}
	writeJSON(w, status, installResultResponse(result))
}

// batchRequest is the JSON body for POST /installations:batch.
type batchRequest struct {
	Sources []sourceRequest `json:"sources"`
}

// batchInstallHandler handles POST /installations:batch. The batch is
// queued as a task and processed asynchronously in submission order.
func (s *Server) batchInstallHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode batch request: %v", err))
		return
	}

	sources := make([]lifecycle.Source, 0, len(req.Sources))
	for i, sr := range req.Sources {
		src, err := sr.toSource()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("source %d: %v", i, err))
			return
		}
		sources = append(sources, src)
	}

	task, err := s.tracker.Submit(tenantID, sources)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// getTaskHandler handles GET /tasks/{taskId}.
func (s *Server) getTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := s.tracker.GetStatus(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get task: %v", err))
		return
	}
	if task == nil || task.TenantID != tenancy.TenantIDFromContext(r.Context()) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", taskID))
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// listTasksHandler handles GET /tasks.
func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())
	params := parsePageParams(r)

	records, err := s.tracker.ListForTenant(tenantID, params.PageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tasks: %v", err))
		return
	}

	items := make([]taskResponse, len(records))
	for i := range records {
		items[i] = taskToResponse(&records[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": items,
		"size":  len(items),
	})
}

// listInstallationsHandler handles GET /installations.
// Query params: status, runtimeType, q, pageSize, pageToken.
func (s *Server) listInstallationsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())
	params := parsePageParams(r)
	q := r.URL.Query()

	filter := ledger.Filter{
		Status:      ledger.Status(q.Get("status")),
		RuntimeType: q.Get("runtimeType"),
		NameQuery:   q.Get("q"),
	}

	records, total, err := s.controller.ListInstalled(r.Context(), tenantID, filter, params.Offset, params.PageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list installations: %v", err))
		return
	}

	items := make([]installationResponse, len(records))
	for i := range records {
		items[i] = installationToResponse(&records[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"installations": items,
		"totalSize":     total,
		"pageSize":      params.PageSize,
		"nextPageToken": nextPageToken(params, len(records), total),
	})
}

// getInstallationHandler handles GET /installations/{pluginId}.
func (s *Server) getInstallationHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())
	pluginID := chi.URLParam(r, "pluginId")

	row, err := s.ledger.Get(tenantID, pluginID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get installation: %v", err))
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("plugin %q is not installed", pluginID))
		return
	}
	writeJSON(w, http.StatusOK, installationToResponse(row))
}

// uninstallHandler handles DELETE /installations/{pluginId}.
func (s *Server) uninstallHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())
	pluginID := chi.URLParam(r, "pluginId")

	if _, err := s.controller.Uninstall(r.Context(), tenantID, pluginID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.cache.InvalidateTenant(tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "uninstalled",
		"pluginId": pluginID,
	})
}

// enableHandler handles POST /installations/{pluginId}:enable.
func (s *Server) enableHandler(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

// disableHandler handles POST /installations/{pluginId}:disable.
func (s *Server) disableHandler(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	tenantID := tenancy.TenantIDFromContext(r.Context())
	pluginID := chi.URLParam(r, "pluginId")

	var err error
	if enabled {
		err = s.controller.Enable(r.Context(), tenantID, pluginID)
	} else {
		err = s.controller.Disable(r.Context(), tenantID, pluginID)
	}
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	s.cache.InvalidateTenant(tenantID)

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"pluginId": pluginID,
	})
}

// providersHandler handles GET /providers: the tenant's model provider
// projection rows.
func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())

	rows, err := s.ledger.ModelProvidersForTenant(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list providers: %v", err))
		return
	}

	items := make([]map[string]string, len(rows))
	for i, row := range rows {
		items[i] = map[string]string{
			"provider": row.Provider,
			"pluginId": row.PluginID,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": items, "size": len(items)})
}

// toolsHandler handles GET /tools: the tenant's tool projection rows.
func (s *Server) toolsHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := tenancy.TenantIDFromContext(r.Context())

	rows, err := s.ledger.ToolsForTenant(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list tools: %v", err))
		return
	}

	items := make([]map[string]any, len(rows))
	for i, row := range rows {
		items[i] = map[string]any{
			"toolName": row.ToolName,
			"pluginId": row.PluginID,
			"enabled":  row.Enabled,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": items, "size": len(items)})
}

// registryHandler handles GET /registry: all registered descriptors,
// sorted by plugin ID.
func (s *Server) registryHandler(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.registry.Snapshot()

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]*pluginpkg.PluginDescriptor, 0, len(ids))
	for _, id := range ids {
		items = append(items, snapshot[id])
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": items, "size": len(items)})
}

// registryStatsHandler handles GET /registry:stats.
func (s *Server) registryStatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// installationResponse is the API shape of a ledger row.
type installationResponse struct {
	PluginID    string `json:"pluginId"`
	Pin         string `json:"pluginUniqueIdentifier"`
	RuntimeType string `json:"runtimeType"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func installationToResponse(row *ledger.Installation) installationResponse {
	return installationResponse{
		PluginID:    row.PluginID,
		Pin:         row.PluginUniqueIdentifier,
		RuntimeType: row.RuntimeType,
		Status:      string(row.Status),
		CreatedAt:   row.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   row.UpdatedAt.Format(time.RFC3339),
	}
}

// installResponse is the API shape of a completed install.
type installResponse struct {
	Descriptor       *pluginpkg.PluginDescriptor `json:"descriptor"`
	Installation     installationResponse        `json:"installation"`
	AlreadyInstalled bool                        `json:"alreadyInstalled"`
	Warnings         []string                    `json:"warnings,omitempty"`
}

func installResultResponse(result *lifecycle.Result) installResponse {
	return installResponse{
		Descriptor:       result.Descriptor,
		Installation:     installationToResponse(result.Installation),
		AlreadyInstalled: result.AlreadyInstalled,
		Warnings:         result.Warnings,
	}
}

// taskResponse is the API shape of an install task.
type taskResponse struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	TotalPlugins     int    `json:"totalPlugins"`
	CompletedPlugins int    `json:"completedPlugins"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	CreatedAt        string `json:"createdAt"`
	FinishedAt       string `json:"finishedAt,omitempty"`
}

func taskToResponse(task *tasks.InstallTask) taskResponse {
	resp := taskResponse{
		ID:               task.ID,
		State:            string(task.State),
		TotalPlugins:     task.TotalPlugins,
		CompletedPlugins: task.CompletedPlugins,
		ErrorMessage:     task.ErrorMessage,
		CreatedAt:        task.CreatedAt.Format(time.RFC3339),
	}
	if task.FinishedAt != nil {
		resp.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var (
		malformed   *pluginpkg.MalformedPackageError
		unsupported *pluginpkg.UnsupportedPackageError
		missing     *resolver.MissingDependencyError
		rangeErr    *resolver.VersionRangeError
		cycle       *resolver.CircularDependencyError
		conflict    *registry.VersionConflictError
		notFound    *lifecycle.NotInstalledError
		inUse       *lifecycle.DependencyInUseError
	)
	switch {
	case errors.As(err, &malformed), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &missing), errors.As(err, &rangeErr), errors.As(err, &cycle):
		return http.StatusUnprocessableEntity
	case errors.As(err, &conflict), errors.As(err, &inUse):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrEmptyBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
