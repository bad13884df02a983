package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldqa/api/internal/auth"
	"fieldqa/api/internal/feed"
	"fieldqa/api/internal/importer"
	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/search"
	"fieldqa/api/internal/store"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		actor, err := s.service.ActorFromToken(token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        actor.ID,
			"userName":      actor.Name,
			"role":          actor.Role,
		})
		return
	}

	// Everything below requires a valid bearer token.
	actor, err := s.service.ActorFromToken(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "projects":
		s.routeProjects(w, r, actor, parts[2:])
	case "qa-items":
		s.routeItems(w, r, actor, parts[2:])
	case "activity":
		s.routeActivity(w, r, parts[2:])
	case "users":
		s.routeUsers(w, r, actor, parts[2:])
	case "import":
		if r.Method != http.MethodPost || len(parts) != 2 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleImport(w, r, actor)
	case "search":
		if r.Method != http.MethodGet || len(parts) != 2 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.handleSearch(w, r)
	case "summary":
		if r.Method != http.MethodGet || len(parts) != 2 {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		summary, err := s.service.Summary(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- auth handlers ----

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		FullName string `json:"fullName"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignUp(r.Context(), body.Email, body.FullName, body.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ---- projects ----

func (s *HTTPServer) routeProjects(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		projects, err := s.service.ListProjects(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Name        string `json:"name"`
			Client      string `json:"client"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.CreateProject(r.Context(), actor, store.Project{
			Name:        body.Name,
			Client:      body.Client,
			Description: body.Description,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)

	case len(rest) == 1 && r.Method == http.MethodGet:
		project, err := s.service.GetProject(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)

	case len(rest) == 2 && rest[1] == "phases" && r.Method == http.MethodGet:
		phases, err := s.service.ListPhases(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"phases": phases})

	case len(rest) == 2 && rest[1] == "phases" && r.Method == http.MethodPost:
		var body struct {
			Name        string `json:"name"`
			Discipline  string `json:"discipline"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		discipline, err := qa.ParseDiscipline(body.Discipline)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		phase, err := s.service.CreatePhase(r.Context(), actor, store.ProjectPhase{
			ProjectID:   rest[0],
			Name:        body.Name,
			Discipline:  discipline,
			Description: body.Description,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, phase)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- QA items ----

func (s *HTTPServer) routeItems(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleListItems(w, r)
	case len(rest) == 0 && r.Method == http.MethodPost:
		s.handleCreateItem(w, r, actor)
	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetItem(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, itemPayload(item))
	case len(rest) == 1 && r.Method == http.MethodPatch:
		s.handleEditItem(w, r, actor, rest[0])
	case len(rest) == 2 && rest[1] == "transition" && r.Method == http.MethodPost:
		s.handleTransition(w, r, actor, rest[0])
	case len(rest) == 2 && rest[1] == "reviews" && r.Method == http.MethodGet:
		reviews, err := s.service.ListReviews(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
	case len(rest) == 2 && rest[1] == "reviews" && r.Method == http.MethodPost:
		s.handleSubmitReview(w, r, actor, rest[0])
	case len(rest) == 2 && rest[1] == "history" && r.Method == http.MethodGet:
		history, err := s.service.History(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodGet:
		attachments, err := s.service.ListAttachments(r.Context(), rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attachments": attachments})
	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodPost:
		s.handleUploadAttachment(w, r, actor, rest[0])
	case len(rest) == 3 && rest[1] == "attachments" && r.Method == http.MethodDelete:
		s.handleDeleteAttachment(w, r, actor, rest[0], rest[2])
	case len(rest) == 4 && rest[1] == "attachments" && rest[3] == "download" && r.Method == http.MethodGet:
		s.handleDownloadAttachment(w, r, rest[0], rest[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ItemListFilter{
		ProjectID:  query.Get("projectId"),
		AssignedTo: query.Get("assignedTo"),
	}
	if raw := query.Get("status"); raw != "" {
		status, err := qa.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		filter.Status = status
	}
	if raw := query.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}
	items, err := s.service.ListItems(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, itemPayload(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": payloads})
}

func (s *HTTPServer) handleCreateItem(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		ProjectID   string  `json:"projectId"`
		PhaseID     *string `json:"phaseId"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Category    string  `json:"category"`
		Discipline  string  `json:"discipline"`
		Severity    string  `json:"severity"`
		AssignedTo  *string `json:"assignedTo"`
		DueDate     *string `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	input := store.NewItemInput{
		ProjectID:   body.ProjectID,
		PhaseID:     body.PhaseID,
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		Discipline:  qa.Discipline(body.Discipline),
		Severity:    qa.Severity(body.Severity),
		AssignedTo:  body.AssignedTo,
	}
	if body.DueDate != nil {
		due, err := time.Parse("2006-01-02", *body.DueDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("bad dueDate %q", *body.DueDate), nil)
			return
		}
		input.DueDate = &due
	}
	item, err := s.service.CreateItem(r.Context(), actor, input)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemPayload(item))
}

func (s *HTTPServer) handleEditItem(w http.ResponseWriter, r *http.Request, actor Actor, itemID string) {
	var body struct {
		ExpectedVersion string  `json:"expectedVersion"`
		Title           *string `json:"title"`
		Description     *string `json:"description"`
		Category        *string `json:"category"`
		Severity        *string `json:"severity"`
		Discipline      *string `json:"discipline"`
		AssignedTo      *string `json:"assignedTo"`
		ClearAssign     bool    `json:"clearAssign"`
		DueDate         *string `json:"dueDate"`
		ClearDue        bool    `json:"clearDue"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, ok := parseVersion(w, body.ExpectedVersion)
	if !ok {
		return
	}

	edit := store.ItemEdit{
		Title:       body.Title,
		Description: body.Description,
		Category:    body.Category,
		AssignedTo:  body.AssignedTo,
		ClearAssign: body.ClearAssign,
		ClearDue:    body.ClearDue,
	}
	if body.Severity != nil {
		severity := qa.Severity(*body.Severity)
		edit.Severity = &severity
	}
	if body.Discipline != nil {
		discipline := qa.Discipline(*body.Discipline)
		edit.Discipline = &discipline
	}
	if body.DueDate != nil {
		due, err := time.Parse("2006-01-02", *body.DueDate)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("bad dueDate %q", *body.DueDate), nil)
			return
		}
		edit.DueDate = &due
	}

	item, err := s.service.EditItem(r.Context(), actor, itemID, version, edit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemPayload(item))
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, actor Actor, itemID string) {
	var body struct {
		To              string `json:"to"`
		ExpectedVersion string `json:"expectedVersion"`
		Note            string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, ok := parseVersion(w, body.ExpectedVersion)
	if !ok {
		return
	}
	item, err := s.service.AttemptTransition(r.Context(), actor, itemID, qa.Status(body.To), version, body.Note)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemPayload(item))
}

func (s *HTTPServer) handleSubmitReview(w http.ResponseWriter, r *http.Request, actor Actor, itemID string) {
	var body struct {
		ProposedStatus  string `json:"proposedStatus"`
		Comment         string `json:"comment"`
		ExpectedVersion string `json:"expectedVersion"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, ok := parseVersion(w, body.ExpectedVersion)
	if !ok {
		return
	}
	outcome, err := s.service.SubmitReview(r.Context(), actor, itemID, qa.Status(body.ProposedStatus), body.Comment, version)
	if err != nil {
		s.fail(w, err)
		return
	}
	payload := map[string]any{
		"review":  outcome.Review,
		"item":    itemPayload(outcome.Item),
		"applied": outcome.Applied,
	}
	if outcome.Rejection != nil {
		payload["rejection"] = map[string]any{
			"code":  outcome.Rejection.Code,
			"error": outcome.Rejection.Message,
		}
	}
	writeJSON(w, http.StatusCreated, payload)
}

// ---- attachments ----

func (s *HTTPServer) handleUploadAttachment(w http.ResponseWriter, r *http.Request, actor Actor, itemID string) {
	objects := s.service.Attachments()
	if objects == nil {
		writeError(w, http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	objectPath, err := objects.Put(r.Context(), itemID, header.Filename, contentType, file, header.Size)
	if err != nil {
		s.fail(w, err)
		return
	}

	att, err := s.service.RecordAttachment(r.Context(), actor, store.Attachment{
		QAItemID: itemID,
		FileName: header.Filename,
		FilePath: objectPath,
		FileSize: header.Size,
		FileType: contentType,
	})
	if err != nil {
		// Metadata write failed; best effort cleanup of the object.
		_ = objects.Remove(r.Context(), objectPath)
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *HTTPServer) handleDeleteAttachment(w http.ResponseWriter, r *http.Request, actor Actor, itemID, attachmentID string) {
	att, err := s.service.DeleteAttachment(r.Context(), actor, itemID, attachmentID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if objects := s.service.Attachments(); objects != nil {
		if err := objects.Remove(r.Context(), att.FilePath); err != nil {
			log.Printf("attachment %s: remove object: %v", attachmentID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDownloadAttachment(w http.ResponseWriter, r *http.Request, itemID, attachmentID string) {
	objects := s.service.Attachments()
	if objects == nil {
		writeError(w, http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
		return
	}
	attachments, err := s.service.ListAttachments(r.Context(), itemID)
	if err != nil {
		s.fail(w, err)
		return
	}
	for _, att := range attachments {
		if att.ID == attachmentID {
			url, err := objects.PresignedURL(r.Context(), att.FilePath, att.FileName)
			if err != nil {
				s.fail(w, err)
				return
			}
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
}

// ---- import ----

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, actor Actor) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form required", nil)
		return
	}
	projectID := strings.TrimSpace(r.FormValue("projectId"))
	if projectID == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
		return
	}
	var phaseID *string
	if raw := strings.TrimSpace(r.FormValue("phaseId")); raw != "" {
		phaseID = &raw
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field required", nil)
		return
	}
	defer file.Close()

	rows, rowErrors, err := importer.ParseWorkbook(file)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	result, err := s.service.ImportRows(r.Context(), actor, projectID, phaseID, rows, rowErrors, header.Filename)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ---- activity ----

func (s *HTTPServer) routeActivity(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.handleTimeline(w, r)
	case len(rest) == 1 && rest[0] == "backfill" && r.Method == http.MethodGet:
		s.handleBackfill(w, r)
	case len(rest) == 1 && rest[0] == "stream" && r.Method == http.MethodGet:
		s.handleStream(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ActivityFilter{
		FreeText:     query.Get("q"),
		ActivityType: qa.ActivityType(query.Get("type")),
		ProjectID:    query.Get("projectId"),
		QAItemID:     query.Get("qaItemId"),
	}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("bad since %q", raw), nil)
			return
		}
		filter.Since = &since
	}
	if raw := query.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("bad until %q", raw), nil)
			return
		}
		filter.Until = &until
	}
	if raw := query.Get("limit"); raw != "" {
		filter.Limit, _ = strconv.Atoi(raw)
	}

	page, err := s.service.Timeline(r.Context(), filter, query.Get("cursor"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleBackfill(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	page, err := s.service.Backfill(r.Context(), query.Get("cursor"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleStream serves the live feed over SSE. Each event's id field is
// a resume cursor for /api/activity/backfill.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "streaming unsupported", nil)
		return
	}

	query := r.URL.Query()
	sub, err := s.service.Subscribe(r.Context(), feed.Scope{
		ProjectID: query.Get("projectId"),
		QAItemID:  query.Get("qaItemId"),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			cursor := encodeCursor(store.Cursor{CreatedAt: event.CreatedAt, ID: event.ID})
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", cursor, payload)
			flusher.Flush()
		}
	}
}

// ---- search ----

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	searchSvc := s.service.SearchService()
	if searchSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
		return
	}
	query := r.URL.Query()
	limit := 0
	offset := 0
	if raw := query.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("offset"); raw != "" {
		offset, _ = strconv.Atoi(raw)
	}
	response := searchSvc.Search(search.Query{
		Text:            query.Get("q"),
		FilterType:      search.ResultType(query.Get("type")),
		FilterProjectID: query.Get("projectId"),
		Limit:           limit,
		Offset:          offset,
	})
	writeJSON(w, http.StatusOK, response)
}

// ---- users ----

func (s *HTTPServer) routeUsers(w http.ResponseWriter, r *http.Request, actor Actor, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		profiles, err := s.service.ListProfiles(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		users := make([]map[string]any, 0, len(profiles))
		for _, p := range profiles {
			users = append(users, map[string]any{
				"id":       p.ID,
				"email":    p.Email,
				"fullName": p.FullName,
				"role":     p.Role,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})

	case len(rest) == 2 && rest[1] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		role, err := qa.ParseRole(body.Role)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		if err := s.service.SetUserRole(r.Context(), actor, rest[0], role); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// ---- middleware and helpers ----

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func setCORSHeaders(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseVersion(w http.ResponseWriter, raw string) (time.Time, bool) {
	version, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "expectedVersion must be the item's updatedAt timestamp", nil)
		return time.Time{}, false
	}
	return version, true
}

// itemPayload shapes an item for clients. updatedAt doubles as the
// expectedVersion clients must echo back on mutations.
func itemPayload(item store.QAItem) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"itemNumber":  item.ItemNumber,
		"projectId":   item.ProjectID,
		"phaseId":     item.PhaseID,
		"title":       item.Title,
		"description": item.Description,
		"category":    item.Category,
		"discipline":  item.Discipline,
		"severity":    item.Severity,
		"status":      item.Status,
		"assignedTo":  item.AssignedTo,
		"dueDate":     item.DueDate,
		"startedAt":   item.StartedAt,
		"resolvedAt":  item.ResolvedAt,
		"verifiedAt":  item.VerifiedAt,
		"closedAt":    item.ClosedAt,
		"createdBy":   item.CreatedBy,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= 500 {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrVersionConflict) {
		return http.StatusConflict, "CONFLICT", "Resource was modified by someone else", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
