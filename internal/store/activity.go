package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldqa/api/internal/qa"
)

// Every mutation in this file commits its state change together with
// its audit entries in a single transaction. A failed mutation writes
// nothing; a committed one is always fully logged.

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const activityColumns = `
	a.id, a.activity_type::text, a.description, a.old_value, a.new_value, a.metadata,
	a.project_id, a.phase_id, a.qa_item_id, a.user_id, a.created_at
`

func scanActivity(row rowScanner) (ActivityLogEntry, error) {
	var entry ActivityLogEntry
	var activityType string
	var metadata []byte
	err := row.Scan(&entry.ID, &activityType, &entry.Description, &entry.OldValue, &entry.NewValue,
		&metadata, &entry.ProjectID, &entry.PhaseID, &entry.QAItemID, &entry.UserID, &entry.CreatedAt)
	if err != nil {
		return ActivityLogEntry{}, err
	}
	entry.ActivityType = qa.ActivityType(activityType)
	if len(metadata) > 0 {
		entry.Metadata = json.RawMessage(metadata)
	}
	return entry, nil
}

func insertActivity(ctx context.Context, q queryRower, entry ActivityLogEntry) (ActivityLogEntry, error) {
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO activity_log (activity_type, description, old_value, new_value, metadata,
			project_id, phase_id, qa_item_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, string(entry.ActivityType), entry.Description, entry.OldValue, entry.NewValue, metadata,
		entry.ProjectID, entry.PhaseID, entry.QAItemID, entry.UserID, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return ActivityLogEntry{}, fmt.Errorf("insert activity: %w", err)
	}
	return entry, nil
}

// TransitionParams describes a validated status change ready to commit.
// Edge and role validation happen in the service; the store owns the
// version gate and the atomic write.
type TransitionParams struct {
	ItemID          string
	To              qa.Status
	ExpectedVersion time.Time
	ActorID         string
	Description     string
	Metadata        json.RawMessage
}

// TransitionItem applies a status change and its status_change audit
// entry atomically. A version mismatch returns ErrVersionConflict and
// writes nothing.
func (s *PostgresStore) TransitionItem(ctx context.Context, params TransitionParams) (QAItem, ActivityLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockItemForUpdate(ctx, tx, params.ItemID, params.ExpectedVersion)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, err
	}

	now := time.Now().UTC()
	oldStatus := item.Status

	// Each phase timestamp is set the first time its state is entered
	// and never moves afterwards.
	setTimestamp := ""
	switch params.To {
	case qa.StatusOpen:
		setTimestamp = ", started_at = COALESCE(started_at, $3)"
	case qa.StatusResolved:
		setTimestamp = ", resolved_at = COALESCE(resolved_at, $3)"
	case qa.StatusVerified:
		setTimestamp = ", verified_at = COALESCE(verified_at, $3)"
	case qa.StatusClosed:
		setTimestamp = ", closed_at = COALESCE(closed_at, $3)"
	}

	row := tx.QueryRowContext(ctx,
		`UPDATE qa_items SET status=$2::qa_status, updated_at=$3`+setTimestamp+` WHERE id=$1 RETURNING `+itemColumns,
		params.ItemID, string(params.To), now)
	item, err = scanItem(row)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("update item status: %w", err)
	}

	oldValue := string(oldStatus)
	newValue := string(params.To)
	entry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityStatusChange,
		Description:  params.Description,
		OldValue:     &oldValue,
		NewValue:     &newValue,
		Metadata:     params.Metadata,
		ProjectID:    &item.ProjectID,
		PhaseID:      item.PhaseID,
		QAItemID:     &item.ID,
		UserID:       nullable(params.ActorID),
		CreatedAt:    now,
	})
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("commit transition: %w", err)
	}
	return item, entry, nil
}

// InsertReview appends an immutable review row and its review_added
// audit entry atomically. It never touches the item row; the status
// transition the review proposes is a separate step.
func (s *PostgresStore) InsertReview(ctx context.Context, review Review, description string) (Review, ActivityLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Review{}, ActivityLogEntry{}, fmt.Errorf("begin review: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID string
	var phaseID *string
	if err := tx.QueryRowContext(ctx, `SELECT project_id, phase_id FROM qa_items WHERE id=$1`, review.QAItemID).
		Scan(&projectID, &phaseID); err != nil {
		return Review{}, ActivityLogEntry{}, err
	}

	now := time.Now().UTC()
	review.ID = uuid.NewString()
	review.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO qa_reviews (id, qa_item_id, reviewer_id, reviewer_role, status, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, review.ID, review.QAItemID, review.ReviewerID, string(review.ReviewerRole),
		string(review.ProposedStatus), review.Comment, now); err != nil {
		return Review{}, ActivityLogEntry{}, fmt.Errorf("insert review: %w", err)
	}

	proposed := string(review.ProposedStatus)
	entry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityReviewAdded,
		Description:  description,
		NewValue:     &proposed,
		ProjectID:    &projectID,
		PhaseID:      phaseID,
		QAItemID:     &review.QAItemID,
		UserID:       &review.ReviewerID,
		CreatedAt:    now,
	})
	if err != nil {
		return Review{}, ActivityLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Review{}, ActivityLogEntry{}, fmt.Errorf("commit review: %w", err)
	}
	return review, entry, nil
}

// EditItem applies a non-status edit under the version gate and logs a
// single item_edited entry naming the changed fields.
func (s *PostgresStore) EditItem(ctx context.Context, itemID string, expectedVersion time.Time, edit ItemEdit, actorID, description string, metadata json.RawMessage) (QAItem, ActivityLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("begin edit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockItemForUpdate(ctx, tx, itemID, expectedVersion)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, err
	}

	if edit.Title != nil {
		item.Title = *edit.Title
	}
	if edit.Description != nil {
		item.Description = *edit.Description
	}
	if edit.Category != nil {
		item.Category = *edit.Category
	}
	if edit.Severity != nil {
		item.Severity = *edit.Severity
	}
	if edit.Discipline != nil {
		item.Discipline = *edit.Discipline
	}
	if edit.AssignedTo != nil {
		item.AssignedTo = edit.AssignedTo
	}
	if edit.ClearAssign {
		item.AssignedTo = nil
	}
	if edit.DueDate != nil {
		item.DueDate = edit.DueDate
	}
	if edit.ClearDue {
		item.DueDate = nil
	}

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		UPDATE qa_items
		SET title=$2, description=$3, category=$4, severity=$5::qa_severity,
			discipline=$6::discipline_type, assigned_to=$7, due_date=$8, updated_at=$9
		WHERE id=$1
		RETURNING `+itemColumns,
		itemID, item.Title, item.Description, item.Category, string(item.Severity),
		string(item.Discipline), item.AssignedTo, item.DueDate, now)
	item, err = scanItem(row)
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("update item: %w", err)
	}

	entry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityItemEdited,
		Description:  description,
		Metadata:     metadata,
		ProjectID:    &item.ProjectID,
		PhaseID:      item.PhaseID,
		QAItemID:     &item.ID,
		UserID:       nullable(actorID),
		CreatedAt:    now,
	})
	if err != nil {
		return QAItem{}, ActivityLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return QAItem{}, ActivityLogEntry{}, fmt.Errorf("commit edit: %w", err)
	}
	return item, entry, nil
}

// InsertAttachmentMeta records attachment metadata and the
// attachment_uploaded entry atomically. File bytes live with the
// attachment collaborator, never here.
func (s *PostgresStore) InsertAttachmentMeta(ctx context.Context, att Attachment, description string, metadata json.RawMessage) (Attachment, ActivityLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attachment{}, ActivityLogEntry{}, fmt.Errorf("begin attachment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID string
	var phaseID *string
	if err := tx.QueryRowContext(ctx, `SELECT project_id, phase_id FROM qa_items WHERE id=$1`, att.QAItemID).
		Scan(&projectID, &phaseID); err != nil {
		return Attachment{}, ActivityLogEntry{}, err
	}

	now := time.Now().UTC()
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	att.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO qa_attachments (id, qa_item_id, file_name, file_path, file_size, file_type, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8)
	`, att.ID, att.QAItemID, att.FileName, att.FilePath, att.FileSize, att.FileType, att.UploadedBy, now); err != nil {
		return Attachment{}, ActivityLogEntry{}, fmt.Errorf("insert attachment: %w", err)
	}

	entry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityAttachmentUploaded,
		Description:  description,
		NewValue:     &att.FileName,
		Metadata:     metadata,
		ProjectID:    &projectID,
		PhaseID:      phaseID,
		QAItemID:     &att.QAItemID,
		UserID:       nullable(att.UploadedBy),
		CreatedAt:    now,
	})
	if err != nil {
		return Attachment{}, ActivityLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Attachment{}, ActivityLogEntry{}, fmt.Errorf("commit attachment: %w", err)
	}
	return att, entry, nil
}

// DeleteAttachmentMeta removes attachment metadata and logs the
// attachment_deleted entry atomically. The caller removes the object
// bytes afterwards, best effort.
func (s *PostgresStore) DeleteAttachmentMeta(ctx context.Context, itemID, attachmentID, actorID, description string) (Attachment, ActivityLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attachment{}, ActivityLogEntry{}, fmt.Errorf("begin attachment delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var att Attachment
	var uploadedBy *string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM qa_attachments
		WHERE qa_item_id=$1 AND id=$2
		RETURNING id, qa_item_id, file_name, file_path, file_size, file_type, uploaded_by, created_at
	`, itemID, attachmentID).Scan(&att.ID, &att.QAItemID, &att.FileName, &att.FilePath, &att.FileSize, &att.FileType, &uploadedBy, &att.CreatedAt)
	if err != nil {
		return Attachment{}, ActivityLogEntry{}, err
	}
	if uploadedBy != nil {
		att.UploadedBy = *uploadedBy
	}

	var projectID string
	var phaseID *string
	if err := tx.QueryRowContext(ctx, `SELECT project_id, phase_id FROM qa_items WHERE id=$1`, itemID).
		Scan(&projectID, &phaseID); err != nil {
		return Attachment{}, ActivityLogEntry{}, err
	}

	now := time.Now().UTC()
	entry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityAttachmentDeleted,
		Description:  description,
		OldValue:     &att.FileName,
		ProjectID:    &projectID,
		PhaseID:      phaseID,
		QAItemID:     &itemID,
		UserID:       nullable(actorID),
		CreatedAt:    now,
	})
	if err != nil {
		return Attachment{}, ActivityLogEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return Attachment{}, ActivityLogEntry{}, fmt.Errorf("commit attachment delete: %w", err)
	}
	return att, entry, nil
}

// ImportItems writes a batch of new items, one item_edited entry per
// row written, and a single import_performed summary entry, all in one
// transaction.
func (s *PostgresStore) ImportItems(ctx context.Context, inputs []NewItemInput, numbers []string, actorID, projectID, summary string, metadata json.RawMessage) ([]QAItem, []ActivityLogEntry, error) {
	if len(inputs) != len(numbers) {
		return nil, nil, fmt.Errorf("import: %d inputs with %d numbers", len(inputs), len(numbers))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	items := make([]QAItem, 0, len(inputs))
	entries := make([]ActivityLogEntry, 0, len(inputs)+1)

	for i, input := range inputs {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO qa_items (id, item_number, project_id, phase_id, title, description, category,
				discipline, severity, status, assigned_to, due_date, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'noted', $10, $11, NULLIF($12, '')::uuid, $13, $13)
			RETURNING `+itemColumns,
			uuid.NewString(), numbers[i], input.ProjectID, input.PhaseID, input.Title, input.Description,
			input.Category, string(input.Discipline), string(input.Severity), input.AssignedTo,
			input.DueDate, input.CreatedBy, now)
		item, err := scanItem(row)
		if err != nil {
			return nil, nil, fmt.Errorf("import item %s: %w", numbers[i], err)
		}
		items = append(items, item)

		entry, err := insertActivity(ctx, tx, ActivityLogEntry{
			ActivityType: qa.ActivityItemEdited,
			Description:  fmt.Sprintf("Imported QA item %s: %s", item.ItemNumber, item.Title),
			ProjectID:    &item.ProjectID,
			PhaseID:      item.PhaseID,
			QAItemID:     &item.ID,
			UserID:       nullable(actorID),
			CreatedAt:    now,
		})
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
	}

	summaryEntry, err := insertActivity(ctx, tx, ActivityLogEntry{
		ActivityType: qa.ActivityImportPerformed,
		Description:  summary,
		NewValue:     nullable(fmt.Sprintf("%d items", len(items))),
		Metadata:     metadata,
		ProjectID:    nullable(projectID),
		UserID:       nullable(actorID),
		CreatedAt:    now,
	})
	if err != nil {
		return nil, nil, err
	}
	entries = append(entries, summaryEntry)

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit import: %w", err)
	}
	return items, entries, nil
}

// ---- activity reads ----

// ListActivityAfter returns entries strictly after the cursor in
// (created_at, id) order, oldest first. Reconnecting feed subscribers
// use it to catch up before switching to live events.
func (s *PostgresStore) ListActivityAfter(ctx context.Context, cursor Cursor, limit int) ([]ActivityLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_log a
		WHERE (a.created_at, a.id) > ($1, $2)
		ORDER BY a.created_at ASC, a.id ASC
		LIMIT $3
	`, cursor.CreatedAt, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity after: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

// ListActivityFiltered is the timeline read path: conjunctive
// predicates, newest first, keyset-paginated so concurrent inserts
// never shift previously returned pages.
func (s *PostgresStore) ListActivityFiltered(ctx context.Context, filter ActivityFilter) ([]ActivityLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var beforeAt *time.Time
	var beforeID int64
	if filter.Before != nil {
		beforeAt = &filter.Before.CreatedAt
		beforeID = filter.Before.ID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_log a
		LEFT JOIN qa_items i ON i.id = a.qa_item_id
		WHERE ($1='' OR a.activity_type = $1::activity_type)
		  AND ($2='' OR a.project_id = $2::uuid)
		  AND ($3='' OR a.qa_item_id = $3::uuid)
		  AND ($4::timestamptz IS NULL OR a.created_at >= $4)
		  AND ($5::timestamptz IS NULL OR a.created_at <= $5)
		  AND ($6='' OR a.description ILIKE '%' || $6 || '%'
			OR i.item_number ILIKE '%' || $6 || '%'
			OR i.title ILIKE '%' || $6 || '%')
		  AND ($7::timestamptz IS NULL OR (a.created_at, a.id) < ($7, $8))
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $9
	`, string(filter.ActivityType), filter.ProjectID, filter.QAItemID,
		filter.Since, filter.Until, filter.FreeText, beforeAt, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity filtered: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

// ListItemStatusEvents returns an item's status_change entries in
// commit order, the replay input for log/state agreement checks.
func (s *PostgresStore) ListItemStatusEvents(ctx context.Context, itemID string) ([]ActivityLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_log a
		WHERE a.qa_item_id = $1::uuid AND a.activity_type = 'status_change'
		ORDER BY a.created_at ASC, a.id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item status events: %w", err)
	}
	defer rows.Close()
	return collectActivity(rows)
}

func collectActivity(rows *sql.Rows) ([]ActivityLogEntry, error) {
	items := make([]ActivityLogEntry, 0)
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}
