package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fieldqa/api/internal/attach"
	"fieldqa/api/internal/auth"
	"fieldqa/api/internal/authpw"
	"fieldqa/api/internal/enrich"
	"fieldqa/api/internal/feed"
	"fieldqa/api/internal/importer"
	"fieldqa/api/internal/qa"
	"fieldqa/api/internal/search"
	"fieldqa/api/internal/store"
)

// Store is the persistence surface the service drives. *store.PostgresStore
// implements it; tests substitute a fake.
type Store interface {
	Ping(ctx context.Context) error

	CreateProfile(ctx context.Context, profile store.Profile) (store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	GetProfileByID(ctx context.Context, userID string) (store.Profile, error)
	GetProfilesByIDs(ctx context.Context, ids []string) (map[string]store.Profile, error)
	ListProfiles(ctx context.Context) ([]store.Profile, error)
	SetUserRole(ctx context.Context, userID string, role qa.Role) error

	InsertProject(ctx context.Context, project store.Project) (store.Project, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	GetProjectNamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
	InsertPhase(ctx context.Context, phase store.ProjectPhase) (store.ProjectPhase, error)
	ListPhases(ctx context.Context, projectID string) ([]store.ProjectPhase, error)

	NextItemNumber(ctx context.Context) (string, error)
	GetItem(ctx context.Context, itemID string) (store.QAItem, error)
	GetItemRefsByIDs(ctx context.Context, ids []string) (map[string]store.ItemRef, error)
	ListItems(ctx context.Context, filter store.ItemListFilter) ([]store.QAItem, error)
	InsertItem(ctx context.Context, input store.NewItemInput, itemNumber string) (store.QAItem, error)
	SummaryCounts(ctx context.Context) (map[qa.Status]int, int, error)

	TransitionItem(ctx context.Context, params store.TransitionParams) (store.QAItem, store.ActivityLogEntry, error)
	EditItem(ctx context.Context, itemID string, expectedVersion time.Time, edit store.ItemEdit, actorID, description string, metadata json.RawMessage) (store.QAItem, store.ActivityLogEntry, error)
	InsertReview(ctx context.Context, review store.Review, description string) (store.Review, store.ActivityLogEntry, error)
	ListReviews(ctx context.Context, itemID string) ([]store.Review, error)

	InsertAttachmentMeta(ctx context.Context, att store.Attachment, description string, metadata json.RawMessage) (store.Attachment, store.ActivityLogEntry, error)
	DeleteAttachmentMeta(ctx context.Context, itemID, attachmentID, actorID, description string) (store.Attachment, store.ActivityLogEntry, error)
	ListAttachments(ctx context.Context, itemID string) ([]store.Attachment, error)
	GetAttachment(ctx context.Context, itemID, attachmentID string) (store.Attachment, error)

	ImportItems(ctx context.Context, inputs []store.NewItemInput, numbers []string, actorID, projectID, summary string, metadata json.RawMessage) ([]store.QAItem, []store.ActivityLogEntry, error)

	ListActivityAfter(ctx context.Context, cursor store.Cursor, limit int) ([]store.ActivityLogEntry, error)
	ListActivityFiltered(ctx context.Context, filter store.ActivityFilter) ([]store.ActivityLogEntry, error)
	ListItemStatusEvents(ctx context.Context, itemID string) ([]store.ActivityLogEntry, error)
}

// Broker is the live change feed. Nil disables push; cursor backfill
// still works.
type Broker interface {
	Publish(ctx context.Context, event feed.Event)
	Subscribe(ctx context.Context, scope feed.Scope) (*feed.Subscription, error)
}

// Actor is the authenticated caller of a mutation.
type Actor struct {
	ID   string
	Name string
	Role qa.Role
}

type Service struct {
	store       Store
	tokens      *auth.Tokens
	passwords   *authpw.Service
	broker      Broker
	resolver    *enrich.Resolver
	search      *search.Service
	attachments *attach.Service
}

type ServiceOptions struct {
	Store       Store
	Tokens      *auth.Tokens
	Passwords   *authpw.Service
	Broker      Broker
	Resolver    *enrich.Resolver
	Search      *search.Service
	Attachments *attach.Service
}

func NewService(opts ServiceOptions) *Service {
	return &Service{
		store:       opts.Store,
		tokens:      opts.Tokens,
		passwords:   opts.Passwords,
		broker:      opts.Broker,
		resolver:    opts.Resolver,
		search:      opts.Search,
		attachments: opts.Attachments,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Attachments() *attach.Service {
	return s.attachments
}

func (s *Service) SearchService() *search.Service {
	return s.search
}

// ---- auth ----

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Role      qa.Role   `json:"role"`
}

func (s *Service) SignUp(ctx context.Context, email, fullName, password string) (Session, error) {
	profile, err := s.passwords.SignUp(ctx, email, fullName, password)
	if err != nil {
		return Session{}, validationError(err.Error(), nil)
	}
	return s.sessionFor(profile)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	profile, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrBadCredentials) {
			return Session{}, domainError(401, "UNAUTHORIZED", "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.sessionFor(profile)
}

func (s *Service) sessionFor(profile store.Profile) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(profile.ID, profile.FullName, profile.Role, time.Now().UTC())
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    profile.ID,
		UserName:  profile.FullName,
		Role:      profile.Role,
	}, nil
}

// ActorFromToken resolves the bearer token into an Actor.
func (s *Service) ActorFromToken(tokenString string) (Actor, error) {
	claims, err := s.tokens.Parse(tokenString)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
}

func (s *Service) SetUserRole(ctx context.Context, actor Actor, userID string, role qa.Role) error {
	if !actor.Role.AtLeast(qa.RoleAdmin) {
		return authorizationError("Only admins can change roles")
	}
	if _, err := s.store.GetProfileByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("User not found")
		}
		return err
	}
	return s.store.SetUserRole(ctx, userID, role)
}

func (s *Service) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	return s.store.ListProfiles(ctx)
}

// ---- projects and phases ----

func (s *Service) CreateProject(ctx context.Context, actor Actor, project store.Project) (store.Project, error) {
	if !actor.Role.AtLeast(qa.RolePM) {
		return store.Project{}, authorizationError("Only PMs can create projects")
	}
	if strings.TrimSpace(project.Name) == "" {
		return store.Project{}, validationError("name is required", nil)
	}
	project.CreatedBy = actor.ID
	if project.Status == "" {
		project.Status = "active"
	}
	return s.store.InsertProject(ctx, project)
}

func (s *Service) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, notFoundError("Project not found")
	}
	return project, err
}

func (s *Service) ListProjects(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) CreatePhase(ctx context.Context, actor Actor, phase store.ProjectPhase) (store.ProjectPhase, error) {
	if !actor.Role.AtLeast(qa.RolePM) {
		return store.ProjectPhase{}, authorizationError("Only PMs can create phases")
	}
	if strings.TrimSpace(phase.Name) == "" {
		return store.ProjectPhase{}, validationError("name is required", nil)
	}
	if _, err := s.GetProject(ctx, phase.ProjectID); err != nil {
		return store.ProjectPhase{}, err
	}
	return s.store.InsertPhase(ctx, phase)
}

func (s *Service) ListPhases(ctx context.Context, projectID string) ([]store.ProjectPhase, error) {
	return s.store.ListPhases(ctx, projectID)
}

// ---- QA items ----

func (s *Service) CreateItem(ctx context.Context, actor Actor, input store.NewItemInput) (store.QAItem, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.QAItem{}, validationError("title is required", nil)
	}
	if _, err := qa.ParseDiscipline(string(input.Discipline)); err != nil {
		return store.QAItem{}, validationError(err.Error(), nil)
	}
	if _, err := qa.ParseSeverity(string(input.Severity)); err != nil {
		return store.QAItem{}, validationError(err.Error(), nil)
	}
	if _, err := s.GetProject(ctx, input.ProjectID); err != nil {
		return store.QAItem{}, err
	}
	input.CreatedBy = actor.ID

	number, err := s.store.NextItemNumber(ctx)
	if err != nil {
		return store.QAItem{}, err
	}
	item, err := s.store.InsertItem(ctx, input, number)
	if err != nil {
		return store.QAItem{}, err
	}
	s.indexItem(item)
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (store.QAItem, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.QAItem{}, notFoundError("QA item not found")
	}
	return item, err
}

func (s *Service) ListItems(ctx context.Context, filter store.ItemListFilter) ([]store.QAItem, error) {
	return s.store.ListItems(ctx, filter)
}

// AttemptTransition validates and applies one status change. Checks
// run in a fixed order: item existence, role authority, edge
// reachability, then the version gate inside the store transaction.
// An edge missing from the current status is a conflict, not a
// validation failure: the caller must re-read current state before
// retrying.
func (s *Service) AttemptTransition(ctx context.Context, actor Actor, itemID string, to qa.Status, expectedVersion time.Time, note string) (store.QAItem, error) {
	if _, err := qa.ParseStatus(string(to)); err != nil {
		return store.QAItem{}, validationError(err.Error(), nil)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return store.QAItem{}, err
	}

	if required := qa.RequiredRole(item.Status, to); !actor.Role.AtLeast(required) {
		return store.QAItem{}, authorizationError(
			fmt.Sprintf("moving %s to %s requires %s", item.ItemNumber, to, required),
		)
	}
	if !qa.CanStep(item.Status, to) {
		return store.QAItem{}, conflictError(
			fmt.Sprintf("cannot move %s from %s to %s", item.ItemNumber, item.Status, to),
			map[string]any{"allowed": qa.NextStatuses(item.Status)},
		)
	}

	description := fmt.Sprintf("%s moved from %s to %s", item.ItemNumber, item.Status, to)
	var metadata json.RawMessage
	if strings.TrimSpace(note) != "" {
		metadata, _ = json.Marshal(map[string]string{"note": note})
	}

	updated, entry, err := s.store.TransitionItem(ctx, store.TransitionParams{
		ItemID:          itemID,
		To:              to,
		ExpectedVersion: expectedVersion,
		ActorID:         actor.ID,
		Description:     description,
		Metadata:        metadata,
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return store.QAItem{}, conflictError("QA item was modified by someone else", map[string]any{
				"itemId": itemID,
			})
		}
		return store.QAItem{}, err
	}

	s.publishEntry(ctx, entry)
	s.indexItem(updated)
	s.indexEntry(entry, updated)
	return updated, nil
}

// ReviewOutcome reports a two-step review submission. The review row
// is committed before the transition is attempted, so any rejection
// of the transition leaves the review in place with Applied false.
type ReviewOutcome struct {
	Review    store.Review
	Item      store.QAItem
	Applied   bool
	Rejection *DomainError
}

// SubmitReview records a review and then attempts the proposed
// transition against the version the reviewer saw.
func (s *Service) SubmitReview(ctx context.Context, actor Actor, itemID string, proposed qa.Status, comment string, expectedVersion time.Time) (ReviewOutcome, error) {
	if _, err := qa.ParseStatus(string(proposed)); err != nil {
		return ReviewOutcome{}, validationError(err.Error(), nil)
	}
	if strings.TrimSpace(comment) == "" {
		return ReviewOutcome{}, validationError("comment is required", nil)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if required := qa.RequiredRole(item.Status, proposed); !actor.Role.AtLeast(required) {
		return ReviewOutcome{}, authorizationError(
			fmt.Sprintf("proposing %s requires %s", proposed, required),
		)
	}
	if !qa.CanStep(item.Status, proposed) {
		return ReviewOutcome{}, conflictError(
			fmt.Sprintf("cannot propose %s for item in %s", proposed, item.Status),
			map[string]any{"allowed": qa.NextStatuses(item.Status)},
		)
	}

	review, entry, err := s.store.InsertReview(ctx, store.Review{
		QAItemID:       itemID,
		ReviewerID:     actor.ID,
		ReviewerRole:   actor.Role,
		ProposedStatus: proposed,
		Comment:        comment,
	}, fmt.Sprintf("%s reviewed %s, proposing %s", actor.Name, item.ItemNumber, proposed))
	if err != nil {
		return ReviewOutcome{}, err
	}
	s.publishEntry(ctx, entry)
	s.indexEntry(entry, item)

	updated, err := s.AttemptTransition(ctx, actor, itemID, proposed, expectedVersion, comment)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			// The review stands; only the transition was rejected.
			// A concurrent change can invalidate the edge or the
			// role gate between the insert and the re-read.
			current, getErr := s.GetItem(ctx, itemID)
			if getErr != nil {
				current = item
			}
			return ReviewOutcome{Review: review, Item: current, Applied: false, Rejection: domainErr}, nil
		}
		return ReviewOutcome{}, err
	}
	return ReviewOutcome{Review: review, Item: updated, Applied: true}, nil
}

func (s *Service) ListReviews(ctx context.Context, itemID string) ([]store.Review, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListReviews(ctx, itemID)
}

// EditItem applies a non-status edit under the version gate.
func (s *Service) EditItem(ctx context.Context, actor Actor, itemID string, expectedVersion time.Time, edit store.ItemEdit) (store.QAItem, error) {
	if edit.Severity != nil {
		if _, err := qa.ParseSeverity(string(*edit.Severity)); err != nil {
			return store.QAItem{}, validationError(err.Error(), nil)
		}
	}
	if edit.Discipline != nil {
		if _, err := qa.ParseDiscipline(string(*edit.Discipline)); err != nil {
			return store.QAItem{}, validationError(err.Error(), nil)
		}
	}
	if edit.Title != nil && strings.TrimSpace(*edit.Title) == "" {
		return store.QAItem{}, validationError("title cannot be empty", nil)
	}

	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return store.QAItem{}, err
	}

	changed := changedFields(edit)
	if len(changed) == 0 {
		return item, nil
	}
	metadata, _ := json.Marshal(map[string]any{"fields": changed})

	updated, entry, err := s.store.EditItem(ctx, itemID, expectedVersion, edit, actor.ID,
		fmt.Sprintf("%s edited (%s)", item.ItemNumber, strings.Join(changed, ", ")), metadata)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return store.QAItem{}, conflictError("QA item was modified by someone else", map[string]any{
				"itemId": itemID,
			})
		}
		return store.QAItem{}, err
	}

	s.publishEntry(ctx, entry)
	s.indexItem(updated)
	s.indexEntry(entry, updated)
	return updated, nil
}

func changedFields(edit store.ItemEdit) []string {
	var fields []string
	if edit.Title != nil {
		fields = append(fields, "title")
	}
	if edit.Description != nil {
		fields = append(fields, "description")
	}
	if edit.Category != nil {
		fields = append(fields, "category")
	}
	if edit.Severity != nil {
		fields = append(fields, "severity")
	}
	if edit.Discipline != nil {
		fields = append(fields, "discipline")
	}
	if edit.AssignedTo != nil || edit.ClearAssign {
		fields = append(fields, "assigned_to")
	}
	if edit.DueDate != nil || edit.ClearDue {
		fields = append(fields, "due_date")
	}
	return fields
}

// ---- attachments ----

func (s *Service) RecordAttachment(ctx context.Context, actor Actor, att store.Attachment) (store.Attachment, error) {
	if _, err := s.GetItem(ctx, att.QAItemID); err != nil {
		return store.Attachment{}, err
	}
	att.UploadedBy = actor.ID
	metadata, _ := json.Marshal(map[string]any{"size": att.FileSize, "type": att.FileType})
	saved, entry, err := s.store.InsertAttachmentMeta(ctx, att,
		fmt.Sprintf("%s uploaded %s", actor.Name, att.FileName), metadata)
	if err != nil {
		return store.Attachment{}, err
	}
	s.publishEntry(ctx, entry)
	return saved, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, actor Actor, itemID, attachmentID string) (store.Attachment, error) {
	att, err := s.store.GetAttachment(ctx, itemID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Attachment{}, notFoundError("Attachment not found")
		}
		return store.Attachment{}, err
	}
	if att.UploadedBy != actor.ID && !actor.Role.AtLeast(qa.RolePM) {
		return store.Attachment{}, authorizationError("Only the uploader or a PM can delete attachments")
	}

	deleted, entry, err := s.store.DeleteAttachmentMeta(ctx, itemID, attachmentID, actor.ID,
		fmt.Sprintf("%s deleted %s", actor.Name, att.FileName))
	if err != nil {
		return store.Attachment{}, err
	}
	s.publishEntry(ctx, entry)
	return deleted, nil
}

func (s *Service) ListAttachments(ctx context.Context, itemID string) ([]store.Attachment, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, itemID)
}

// ---- bulk import ----

type ImportResult struct {
	Created []store.QAItem `json:"created"`
}

// ImportRows writes parsed workbook rows as new items. Any row error
// rejects the whole batch.
func (s *Service) ImportRows(ctx context.Context, actor Actor, projectID string, phaseID *string, rows []importer.Row, rowErrors []importer.RowError, fileName string) (ImportResult, error) {
	if !actor.Role.AtLeast(qa.RoleSeniorEngineer) {
		return ImportResult{}, authorizationError("Importing requires senior_engineer")
	}
	if len(rowErrors) > 0 {
		return ImportResult{}, validationError("workbook has invalid rows", rowErrors)
	}
	if len(rows) == 0 {
		return ImportResult{}, validationError("workbook has no data rows", nil)
	}
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return ImportResult{}, err
	}

	inputs := make([]store.NewItemInput, 0, len(rows))
	numbers := make([]string, 0, len(rows))
	for _, row := range rows {
		number, err := s.store.NextItemNumber(ctx)
		if err != nil {
			return ImportResult{}, err
		}
		numbers = append(numbers, number)
		inputs = append(inputs, store.NewItemInput{
			ProjectID:   projectID,
			PhaseID:     phaseID,
			Title:       row.Title,
			Description: row.Description,
			Category:    row.Category,
			Discipline:  row.Discipline,
			Severity:    row.Severity,
			DueDate:     row.DueDate,
			CreatedBy:   actor.ID,
		})
	}

	metadata, _ := json.Marshal(map[string]any{"file": fileName, "rows": len(rows)})
	items, entries, err := s.store.ImportItems(ctx, inputs, numbers, actor.ID, projectID,
		fmt.Sprintf("%s imported %d items from %s", actor.Name, len(rows), fileName), metadata)
	if err != nil {
		return ImportResult{}, err
	}

	for _, entry := range entries {
		s.publishEntry(ctx, entry)
	}
	for _, item := range items {
		s.indexItem(item)
	}
	return ImportResult{Created: items}, nil
}

// ---- activity timeline and feed ----

type TimelinePage struct {
	Entries    []enrich.DisplayEntry `json:"entries"`
	NextCursor string                `json:"nextCursor,omitempty"`
}

// Timeline returns a filtered, enriched activity page, newest first.
// The returned cursor fetches the next older page.
func (s *Service) Timeline(ctx context.Context, filter store.ActivityFilter, cursorStr string) (TimelinePage, error) {
	if filter.ActivityType != "" {
		if _, err := qa.ParseActivityType(string(filter.ActivityType)); err != nil {
			return TimelinePage{}, validationError(err.Error(), nil)
		}
	}
	if cursorStr != "" {
		cursor, err := decodeCursor(cursorStr)
		if err != nil {
			return TimelinePage{}, validationError("malformed cursor", nil)
		}
		filter.Before = &cursor
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}

	entries, err := s.store.ListActivityFiltered(ctx, filter)
	if err != nil {
		return TimelinePage{}, err
	}
	display, err := s.resolver.Resolve(ctx, entries)
	if err != nil {
		return TimelinePage{}, err
	}

	page := TimelinePage{Entries: display}
	if len(entries) == filter.Limit {
		last := entries[len(entries)-1]
		page.NextCursor = encodeCursor(store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

type BackfillPage struct {
	Entries []enrich.DisplayEntry `json:"entries"`
	Cursor  string                `json:"cursor"`
	HasMore bool                  `json:"hasMore"`
}

// Backfill returns entries strictly after the given cursor, oldest
// first, with the cursor to resume from. An empty cursor starts from
// the beginning of the log.
func (s *Service) Backfill(ctx context.Context, cursorStr string, limit int) (BackfillPage, error) {
	var cursor store.Cursor
	if cursorStr != "" {
		var err error
		cursor, err = decodeCursor(cursorStr)
		if err != nil {
			return BackfillPage{}, validationError("malformed cursor", nil)
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	entries, err := s.store.ListActivityAfter(ctx, cursor, limit)
	if err != nil {
		return BackfillPage{}, err
	}
	display, err := s.resolver.Resolve(ctx, entries)
	if err != nil {
		return BackfillPage{}, err
	}

	page := BackfillPage{Entries: display, HasMore: len(entries) == limit}
	if len(entries) > 0 {
		last := entries[len(entries)-1]
		page.Cursor = encodeCursor(store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	} else {
		page.Cursor = cursorStr
	}
	return page, nil
}

// Subscribe opens a live feed subscription.
func (s *Service) Subscribe(ctx context.Context, scope feed.Scope) (*feed.Subscription, error) {
	if s.broker == nil {
		return nil, transientStoreError("live feed is not configured")
	}
	return s.broker.Subscribe(ctx, scope)
}

// ItemHistory returns an item's status events together with the state
// replayed from them. Clients use it to audit that the log and the
// item row agree.
type ItemHistory struct {
	Events     []enrich.DisplayEntry `json:"events"`
	Replayed   qa.ReplayResult       `json:"replayed"`
	Consistent bool                  `json:"consistent"`
}

func (s *Service) History(ctx context.Context, itemID string) (ItemHistory, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return ItemHistory{}, err
	}
	entries, err := s.store.ListItemStatusEvents(ctx, itemID)
	if err != nil {
		return ItemHistory{}, err
	}

	events := make([]qa.StatusEvent, 0, len(entries))
	for _, entry := range entries {
		if entry.NewValue == nil {
			continue
		}
		status, err := qa.ParseStatus(*entry.NewValue)
		if err != nil {
			continue
		}
		events = append(events, qa.StatusEvent{NewStatus: status, At: entry.CreatedAt})
	}
	replayed := qa.Replay(events)

	display, err := s.resolver.Resolve(ctx, entries)
	if err != nil {
		return ItemHistory{}, err
	}
	return ItemHistory{
		Events:     display,
		Replayed:   replayed,
		Consistent: replayed.Status == item.Status,
	}, nil
}

// ---- summary ----

type Summary struct {
	Projects int            `json:"projects"`
	Items    int            `json:"items"`
	ByStatus map[string]int `json:"byStatus"`
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	counts, projects, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Projects: projects, ByStatus: make(map[string]int, len(qa.Statuses))}
	for _, status := range qa.Statuses {
		summary.ByStatus[string(status)] = counts[status]
		summary.Items += counts[status]
	}
	return summary, nil
}

// ---- feed and index plumbing ----

func (s *Service) publishEntry(ctx context.Context, entry store.ActivityLogEntry) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(ctx, feed.Event{
		ID:           entry.ID,
		ActivityType: entry.ActivityType,
		Description:  entry.Description,
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		ProjectID:    entry.ProjectID,
		QAItemID:     entry.QAItemID,
		UserID:       entry.UserID,
		CreatedAt:    entry.CreatedAt,
	})
}

func (s *Service) indexItem(item store.QAItem) {
	if s.search == nil {
		return
	}
	s.search.IndexItem(search.ItemRecord{
		ID:          item.ID,
		ItemNumber:  item.ItemNumber,
		Title:       item.Title,
		Description: item.Description,
		ProjectID:   item.ProjectID,
		Status:      string(item.Status),
		Severity:    string(item.Severity),
		Discipline:  string(item.Discipline),
	})
}

func (s *Service) indexEntry(entry store.ActivityLogEntry, item store.QAItem) {
	if s.search == nil {
		return
	}
	record := search.ActivityRecord{
		ID:           strconv.FormatInt(entry.ID, 10),
		Description:  entry.Description,
		ActivityType: string(entry.ActivityType),
		ItemNumber:   item.ItemNumber,
	}
	if entry.ProjectID != nil {
		record.ProjectID = *entry.ProjectID
	}
	if entry.QAItemID != nil {
		record.QAItemID = *entry.QAItemID
	}
	s.search.IndexActivity(record)
}

// Reindex pushes every QA item and activity entry into the search
// index, walking the activity log oldest-first in pages. Run once at
// startup when the index is configured.
func (s *Service) Reindex(ctx context.Context) error {
	if s.search == nil {
		return nil
	}

	items, err := s.store.ListItems(ctx, store.ItemListFilter{})
	if err != nil {
		return fmt.Errorf("list items for reindex: %w", err)
	}
	numbers := make(map[string]string, len(items))
	itemRecords := make([]search.ItemRecord, 0, len(items))
	for _, item := range items {
		numbers[item.ID] = item.ItemNumber
		itemRecords = append(itemRecords, search.ItemRecord{
			ID:          item.ID,
			ItemNumber:  item.ItemNumber,
			Title:       item.Title,
			Description: item.Description,
			ProjectID:   item.ProjectID,
			Status:      string(item.Status),
			Severity:    string(item.Severity),
			Discipline:  string(item.Discipline),
		})
	}

	const pageSize = 500
	var activityRecords []search.ActivityRecord
	var cursor store.Cursor
	for {
		entries, err := s.store.ListActivityAfter(ctx, cursor, pageSize)
		if err != nil {
			return fmt.Errorf("list activity for reindex: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			record := search.ActivityRecord{
				ID:           strconv.FormatInt(entry.ID, 10),
				Description:  entry.Description,
				ActivityType: string(entry.ActivityType),
			}
			if entry.ProjectID != nil {
				record.ProjectID = *entry.ProjectID
			}
			if entry.QAItemID != nil {
				record.QAItemID = *entry.QAItemID
				record.ItemNumber = numbers[*entry.QAItemID]
			}
			activityRecords = append(activityRecords, record)
		}
		last := entries[len(entries)-1]
		cursor = store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		if len(entries) < pageSize {
			break
		}
	}

	s.search.ReindexAll(itemRecords, activityRecords)
	return nil
}
