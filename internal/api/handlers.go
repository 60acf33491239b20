package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"autopunch/internal/database"
	"autopunch/internal/export"
	"autopunch/internal/metrics"
	"autopunch/internal/models"
	"autopunch/internal/service"
)

type bindRequest struct {
	ChatID            int64  `json:"chat_id"`
	CompanyID         string `json:"company_id"`
	InternalCompanyID string `json:"internal_company_id"`
	EmpID             string `json:"emp_id"`
	Password          string `json:"password"`
}

type createSchedulesRequest struct {
	ChatID  int64                  `json:"chat_id"`
	Entries []models.ScheduleEntry `json:"entries"`
}

type cancelRequest struct {
	ChatID int64  `json:"chat_id"`
	TaskID string `json:"task_id"`
}

type punchRequest struct {
	ChatID int64   `json:"chat_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// POST /api/v1/bindings
func (s *HTTPServer) handleBind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("bindings")

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == 0 || req.CompanyID == "" || req.EmpID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "chat_id, company_id, emp_id and password are required")
		return
	}

	binding, err := s.bindings.Bind(r.Context(), req.ChatID, req.CompanyID, req.InternalCompanyID, req.EmpID, req.Password)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", req.ChatID).Msg("Bind failed")
		if errors.Is(err, service.ErrTooManyBindAttempts) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, fmt.Sprintf("bind failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"binding": bindingView(binding),
	})
}

// GET /api/v1/bindings/status?chat_id=...
func (s *HTTPServer) handleBindingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("bindings_status")

	chatID, err := queryInt64(r, "chat_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	binding, stats, err := s.bindings.BindingStatus(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, database.ErrNotBound) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "bound": false})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load binding status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"bound":   true,
		"binding": bindingView(binding),
		"usage":   stats.ByAction,
	})
}

// GET /api/v1/companies?company_id=...
func (s *HTTPServer) handleCompanies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("companies")

	companyID := strings.TrimSpace(r.URL.Query().Get("company_id"))
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}

	companies, err := s.companies.CompanyList(r.Context(), companyID)
	if err != nil {
		s.logger.Warn().Err(err).Str("company_id", companyID).Msg("Company lookup failed")
		writeError(w, http.StatusBadGateway, "company lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "companies": companies})
}

// handleSchedules routes POST (create) and GET (list) on /api/v1/schedules.
func (s *HTTPServer) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSchedules(w, r)
	case http.MethodGet:
		s.listSchedules(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createSchedules(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedules_create")

	var req createSchedulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, "entries must not be empty")
		return
	}
	for i, entry := range req.Entries {
		if entry.Type != models.PunchTypeCheckIn && entry.Type != models.PunchTypeCheckOut {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("entry %d: unknown punch type %q", i, entry.Type))
			return
		}
	}

	userID, err := s.resolveUser(w, r, req.ChatID)
	if err != nil {
		return
	}

	created, rejected, err := s.tasks.CreateTasks(r.Context(), userID, req.Entries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"created":  created,
		"rejected": rejected,
	})
}

func (s *HTTPServer) listSchedules(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("schedules_list")

	chatID, err := queryInt64(r, "chat_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.resolveUser(w, r, chatID)
	if err != nil {
		return
	}

	var statuses []string
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			statuses = append(statuses, strings.ToUpper(strings.TrimSpace(st)))
		}
	}

	limit := models.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	page, err := s.tasks.ListTasks(r.Context(), userID, statuses, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"tasks":       page.Tasks,
		"next_cursor": page.NextCursor,
	})
}

// POST /api/v1/schedules/cancel
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("schedules_cancel")

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	userID, err := s.resolveUser(w, r, req.ChatID)
	if err != nil {
		return
	}

	if err := s.tasks.CancelTask(r.Context(), userID, req.TaskID); err != nil {
		switch {
		case errors.Is(err, database.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, database.ErrNotOwner):
			writeError(w, http.StatusForbidden, "task belongs to another user")
		case errors.Is(err, database.ErrTaskNotPending):
			writeError(w, http.StatusConflict, "task is no longer pending")
		default:
			writeError(w, http.StatusInternalServerError, "failed to cancel task")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// POST /api/v1/punch — submits one punch right now, outside any schedule.
func (s *HTTPServer) handlePunchNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("punch_now")

	var req punchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := s.resolveUser(w, r, req.ChatID)
	if err != nil {
		return
	}

	creds, err := s.bindings.Resolve(r.Context(), userID)
	if err != nil {
		if errors.Is(err, database.ErrNotBound) {
			writeError(w, http.StatusUnauthorized, "account is not bound")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to resolve credentials")
		}
		return
	}

	if err := s.puncher.SubmitPunch(r.Context(), creds, req.Lat, req.Lng); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Immediate punch failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("punch failed: %v", err))
		return
	}

	// Accounting is best-effort; the punch already landed.
	if err := s.bindRepo.RecordUsage(r.Context(), &models.UsageLog{
		UserID:  userID,
		Action:  models.ActionCheckIn,
		Count:   1,
		Details: fmt.Sprintf("%.5f,%.5f", req.Lat, req.Lng),
	}); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to record punch usage")
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GET /api/v1/schedules/export?chat_id=...
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("schedules_export")

	chatID, err := queryInt64(r, "chat_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.resolveUser(w, r, chatID)
	if err != nil {
		return
	}

	// Page through the whole history so a long audit trail is never truncated.
	var tasks []*models.ScheduledTask
	cursor := ""
	for {
		page, err := s.tasks.ListTasks(r.Context(), userID, []string{models.StatusFilterHistory}, cursor, models.MaxPageSize)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}
		tasks = append(tasks, page.Tasks...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(tasks) == 0 {
		writeError(w, http.StatusNotFound, "no history to export")
		return
	}

	filePath, err := export.TaskHistory(tasks, s.exportDir)
	if err != nil {
		s.logger.Error().Err(err).Msg("History export failed")
		writeError(w, http.StatusInternalServerError, "failed to build export")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, filePath)
}

// GET /api/v1/usage?chat_id=...
func (s *HTTPServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("usage")

	chatID, err := queryInt64(r, "chat_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.resolveUser(w, r, chatID)
	if err != nil {
		return
	}

	stats, err := s.bindRepo.GetUsageStats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load usage stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "usage": stats.ByAction})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// resolveUser maps a chat id to the internal binding id. Writes the error
// response itself so callers just bail on err.
func (s *HTTPServer) resolveUser(w http.ResponseWriter, r *http.Request, chatID int64) (int64, error) {
	if chatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return 0, database.ErrNotBound
	}

	binding, err := s.bindRepo.GetBindingByChatID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, database.ErrNotBound) {
			writeError(w, http.StatusUnauthorized, "account is not bound")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load binding")
		}
		return 0, err
	}
	return binding.ID, nil
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

func bindingView(b *models.UserBinding) map[string]any {
	return map[string]any{
		"id":         b.ID,
		"chat_id":    b.ChatID,
		"emp_id":     b.EmpID,
		"company_id": b.CompanyID,
		"updated_at": b.UpdatedAt,
	}
}
