package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldqa/api/internal/qa"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- profiles and roles ----

func (s *PostgresStore) CreateProfile(ctx context.Context, profile Profile) (Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("begin create profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO profiles (id, email, full_name, password_hash)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING created_at, updated_at
	`, profile.ID, profile.Email, profile.FullName, profile.PasswordHash).Scan(&profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, profile.ID, string(profile.Role)); err != nil {
		return Profile{}, fmt.Errorf("insert user role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Profile{}, fmt.Errorf("commit create profile: %w", err)
	}
	return profile, nil
}

const profileColumns = `
	p.id, p.email, p.full_name, p.password_hash,
	COALESCE(r.role::text, 'junior_engineer'),
	p.created_at, p.updated_at
`

func scanProfile(row *sql.Row) (Profile, error) {
	var profile Profile
	var role string
	err := row.Scan(&profile.ID, &profile.Email, &profile.FullName, &profile.PasswordHash, &role, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return Profile{}, err
	}
	profile.Role = qa.Role(role)
	return profile, nil
}

func (s *PostgresStore) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		WHERE p.email = LOWER($1)
	`, email)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfileByID(ctx context.Context, userID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		WHERE p.id = $1
	`, userID)
	return scanProfile(row)
}

func (s *PostgresStore) GetProfilesByIDs(ctx context.Context, ids []string) (map[string]Profile, error) {
	out := make(map[string]Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		WHERE p.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list profiles by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var profile Profile
		var role string
		if err := rows.Scan(&profile.ID, &profile.Email, &profile.FullName, &profile.PasswordHash, &role, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profile.Role = qa.Role(role)
		out[profile.ID] = profile
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.id
		ORDER BY p.full_name ASC, p.email ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	items := make([]Profile, 0)
	for rows.Next() {
		var profile Profile
		var role string
		if err := rows.Scan(&profile.ID, &profile.Email, &profile.FullName, &profile.PasswordHash, &role, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profile.Role = qa.Role(role)
		items = append(items, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID string, role qa.Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, role)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET role=EXCLUDED.role
	`, userID, string(role))
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

// ---- projects and phases ----

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, client, description, status, start_date, end_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::uuid)
		RETURNING created_at, updated_at
	`, project.ID, project.Name, project.Client, project.Description, project.Status,
		project.StartDate, project.EndDate, project.CreatedBy).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	var createdBy *string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, client, description, status, start_date, end_date, created_by, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&project.ID, &project.Name, &project.Client, &project.Description, &project.Status,
		&project.StartDate, &project.EndDate, &createdBy, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if createdBy != nil {
		project.CreatedBy = *createdBy
	}
	return project, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, client, description, status, start_date, end_date, created_by, created_at, updated_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var project Project
		var createdBy *string
		if err := rows.Scan(&project.ID, &project.Name, &project.Client, &project.Description, &project.Status,
			&project.StartDate, &project.EndDate, &createdBy, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if createdBy != nil {
			project.CreatedBy = *createdBy
		}
		items = append(items, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProjectNamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM projects WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list project names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan project name: %w", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project names: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetItemRefsByIDs(ctx context.Context, ids []string) (map[string]ItemRef, error) {
	out := make(map[string]ItemRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, item_number, title FROM qa_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list item refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref ItemRef
		if err := rows.Scan(&ref.ID, &ref.ItemNumber, &ref.Title); err != nil {
			return nil, fmt.Errorf("scan item ref: %w", err)
		}
		out[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item refs: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertPhase(ctx context.Context, phase ProjectPhase) (ProjectPhase, error) {
	if phase.ID == "" {
		phase.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_phases (id, project_id, name, discipline, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, phase.ID, phase.ProjectID, phase.Name, string(phase.Discipline), phase.Description).
		Scan(&phase.CreatedAt, &phase.UpdatedAt)
	if err != nil {
		return ProjectPhase{}, fmt.Errorf("insert phase: %w", err)
	}
	return phase, nil
}

func (s *PostgresStore) ListPhases(ctx context.Context, projectID string) ([]ProjectPhase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, discipline, description, created_at, updated_at
		FROM project_phases
		WHERE project_id=$1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectPhase, 0)
	for rows.Next() {
		var phase ProjectPhase
		var discipline string
		if err := rows.Scan(&phase.ID, &phase.ProjectID, &phase.Name, &discipline, &phase.Description, &phase.CreatedAt, &phase.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phase.Discipline = qa.Discipline(discipline)
		items = append(items, phase)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return items, nil
}

// ---- QA items ----

const itemColumns = `
	id, item_number, project_id, phase_id, title, description, category,
	discipline, severity, status, assigned_to, due_date,
	started_at, resolved_at, verified_at, closed_at,
	created_by, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (QAItem, error) {
	var item QAItem
	var discipline, severity, status string
	var createdBy *string
	err := row.Scan(&item.ID, &item.ItemNumber, &item.ProjectID, &item.PhaseID, &item.Title,
		&item.Description, &item.Category, &discipline, &severity, &status,
		&item.AssignedTo, &item.DueDate,
		&item.StartedAt, &item.ResolvedAt, &item.VerifiedAt, &item.ClosedAt,
		&createdBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return QAItem{}, err
	}
	item.Discipline = qa.Discipline(discipline)
	item.Severity = qa.Severity(severity)
	item.Status = qa.Status(status)
	if createdBy != nil {
		item.CreatedBy = *createdBy
	}
	return item, nil
}

// NextItemNumber hands out display identifiers like QA-2026-0042.
func (s *PostgresStore) NextItemNumber(ctx context.Context) (string, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('qa_item_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next item number: %w", err)
	}
	return fmt.Sprintf("QA-%d-%04d", time.Now().UTC().Year(), n), nil
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (QAItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM qa_items WHERE id=$1`, itemID)
	return scanItem(row)
}

type ItemListFilter struct {
	ProjectID  string
	Status     qa.Status
	AssignedTo string
	Limit      int
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemListFilter) ([]QAItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM qa_items
		WHERE ($1='' OR project_id=$1::uuid)
		  AND ($2='' OR status=$2::qa_status)
		  AND ($3='' OR assigned_to=$3::uuid)
		ORDER BY created_at DESC
		LIMIT $4
	`, filter.ProjectID, string(filter.Status), filter.AssignedTo, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]QAItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertItem(ctx context.Context, input NewItemInput, itemNumber string) (QAItem, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO qa_items (id, item_number, project_id, phase_id, title, description, category,
			discipline, severity, status, assigned_to, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'noted', $10, $11, NULLIF($12, '')::uuid)
		RETURNING `+itemColumns+`
	`, uuid.NewString(), itemNumber, input.ProjectID, input.PhaseID, input.Title, input.Description,
		input.Category, string(input.Discipline), string(input.Severity), input.AssignedTo,
		input.DueDate, input.CreatedBy)
	item, err := scanItem(row)
	if err != nil {
		return QAItem{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (map[qa.Status]int, int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status::text, COUNT(*)::int FROM qa_items GROUP BY status`)
	if err != nil {
		return nil, 0, fmt.Errorf("count items by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[qa.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, 0, fmt.Errorf("scan status count: %w", err)
		}
		counts[qa.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate status counts: %w", err)
	}

	var projects int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&projects); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	return counts, projects, nil
}

// ---- reviews and attachments (reads) ----

func (s *PostgresStore) ListReviews(ctx context.Context, itemID string) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, qa_item_id, reviewer_id, reviewer_role, status, comment, created_at
		FROM qa_reviews
		WHERE qa_item_id=$1
		ORDER BY created_at DESC, id DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]Review, 0)
	for rows.Next() {
		var review Review
		var role, status string
		if err := rows.Scan(&review.ID, &review.QAItemID, &review.ReviewerID, &role, &status, &review.Comment, &review.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		review.ReviewerRole = qa.Role(role)
		review.ProposedStatus = qa.Status(status)
		items = append(items, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, itemID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, qa_item_id, file_name, file_path, file_size, file_type, uploaded_by, created_at
		FROM qa_attachments
		WHERE qa_item_id=$1
		ORDER BY created_at DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var att Attachment
		var uploadedBy *string
		if err := rows.Scan(&att.ID, &att.QAItemID, &att.FileName, &att.FilePath, &att.FileSize, &att.FileType, &uploadedBy, &att.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		if uploadedBy != nil {
			att.UploadedBy = *uploadedBy
		}
		items = append(items, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, itemID, attachmentID string) (Attachment, error) {
	var att Attachment
	var uploadedBy *string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, qa_item_id, file_name, file_path, file_size, file_type, uploaded_by, created_at
		FROM qa_attachments
		WHERE qa_item_id=$1 AND id=$2
	`, itemID, attachmentID).Scan(&att.ID, &att.QAItemID, &att.FileName, &att.FilePath, &att.FileSize, &att.FileType, &uploadedBy, &att.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	if uploadedBy != nil {
		att.UploadedBy = *uploadedBy
	}
	return att, nil
}

// lockItemForUpdate loads an item inside tx with a row lock, then
// compares the caller's expected version. Item mutations all funnel
// through this gate.
func lockItemForUpdate(ctx context.Context, tx *sql.Tx, itemID string, expectedVersion time.Time) (QAItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM qa_items WHERE id=$1 FOR UPDATE`, itemID)
	item, err := scanItem(row)
	if err != nil {
		return QAItem{}, err
	}
	if !item.UpdatedAt.Equal(expectedVersion) {
		return QAItem{}, ErrVersionConflict
	}
	return item, nil
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
