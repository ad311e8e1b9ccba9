package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inspectline/internal/domain"
)

// Store adapts the form document collection. The backing engine only has to
// honor the contract the core needs: get-by-id, filtered query with ordering
// and pagination, create, and atomic partial-merge update keyed by id.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const formColumns = `id,type,template_id,template_name,meta_data_json,inspection_data_json,status,creator,
creator_name,creator_email,assigned_to,assigned_at,reviewed_by,reviewed_at,review_comment,submitted_at,created_at,updated_at`

// FormPatch is a partial merge: nil fields are left untouched. Creator and
// CreatedAt are deliberately absent; they are immutable after creation.
type FormPatch struct {
	Type               *string
	TemplateID         *string
	TemplateName       *string
	MetaDataJSON       *string
	InspectionDataJSON *string
	Status             *string
	CreatorName        *string
	CreatorEmail       *string
	AssignedTo         *string
	AssignedAt         *string
	ReviewedBy         *string
	ReviewedAt         *string
	ReviewComment      *string
	SubmittedAt        *string
	UpdatedAt          *string
}

// FormFilters scope a query. Zero values mean "no constraint".
type FormFilters struct {
	Creator    string
	Status     string
	ReviewedBy string
	Limit      int
	Offset     int
}

func (s Store) InsertForm(ctx context.Context, tx *sql.Tx, f domain.Form) error {
	meta, err := marshalDoc(f.MetaData)
	if err != nil {
		return fmt.Errorf("meta_data: %w", err)
	}
	insp, err := marshalDoc(f.InspectionData)
	if err != nil {
		return fmt.Errorf("inspection_data: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO forms(`+strings.ReplaceAll(formColumns, "\n", "")+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.Type, f.TemplateID, f.TemplateName, meta, insp, f.Status, f.Creator,
		nullable(f.CreatorName), nullable(f.CreatorEmail),
		nullableStringPtr(f.AssignedTo), nullableStringPtr(f.AssignedAt),
		nullableStringPtr(f.ReviewedBy), nullableStringPtr(f.ReviewedAt), nullableStringPtr(f.ReviewComment),
		nullableStringPtr(f.SubmittedAt), f.CreatedAt, f.UpdatedAt)
	return err
}

func (s Store) GetForm(ctx context.Context, id string) (domain.Form, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id=?`, id)
	return scanForm(row.Scan)
}

// UpdateForm applies a partial merge keyed by id. The single UPDATE is the
// atomicity unit; concurrent merges against the same id interleave at the
// statement level, never field-by-field.
func (s Store) UpdateForm(ctx context.Context, tx *sql.Tx, id string, p FormPatch) error {
	n, err := s.applyPatch(ctx, tx, id, "", p)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFormWhereStatus applies a partial merge only if the document's
// current status still equals expectedStatus. Zero rows affected on an
// existing document means a concurrent writer moved the status first.
func (s Store) UpdateFormWhereStatus(ctx context.Context, tx *sql.Tx, id, expectedStatus string, p FormPatch) (bool, error) {
	n, err := s.applyPatch(ctx, tx, id, expectedStatus, p)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s Store) applyPatch(ctx context.Context, tx *sql.Tx, id, expectedStatus string, p FormPatch) (int64, error) {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, *v)
		}
	}
	set("type", p.Type)
	set("template_id", p.TemplateID)
	set("template_name", p.TemplateName)
	set("meta_data_json", p.MetaDataJSON)
	set("inspection_data_json", p.InspectionDataJSON)
	set("status", p.Status)
	set("creator_name", p.CreatorName)
	set("creator_email", p.CreatorEmail)
	set("assigned_to", p.AssignedTo)
	set("assigned_at", p.AssignedAt)
	set("reviewed_by", p.ReviewedBy)
	set("reviewed_at", p.ReviewedAt)
	set("review_comment", p.ReviewComment)
	set("submitted_at", p.SubmittedAt)
	set("updated_at", p.UpdatedAt)
	if len(fields) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`UPDATE forms SET %s WHERE id=?`, strings.Join(fields, ","))
	args = append(args, id)
	if expectedStatus != "" {
		query += ` AND status=?`
		args = append(args, expectedStatus)
	}
	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = s.DB.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s Store) ListForms(ctx context.Context, f FormFilters) ([]domain.Form, error) {
	where, args := formWhere(f)
	query := `SELECT ` + formColumns + ` FROM forms ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Form
	for rows.Next() {
		form, err := scanForm(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, form)
	}
	return res, rows.Err()
}

// CountForms counts the same filtered set ListForms would return, without
// pagination.
func (s Store) CountForms(ctx context.Context, f FormFilters) (int, error) {
	f.Limit = 0
	f.Offset = 0
	where, args := formWhere(f)
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM forms `+where, args...).Scan(&n)
	return n, err
}

func formWhere(f FormFilters) (string, []any) {
	var clauses []string
	var args []any
	if f.Creator != "" {
		clauses = append(clauses, "creator=?")
		args = append(args, f.Creator)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ReviewedBy != "" {
		clauses = append(clauses, "reviewed_by=?")
		args = append(args, f.ReviewedBy)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanForm(scan func(dest ...any) error) (domain.Form, error) {
	var f domain.Form
	var meta, insp, creatorName, creatorEmail, assignedTo, assignedAt,
		reviewedBy, reviewedAt, reviewComment, submittedAt sql.NullString
	err := scan(&f.ID, &f.Type, &f.TemplateID, &f.TemplateName, &meta, &insp, &f.Status, &f.Creator,
		&creatorName, &creatorEmail, &assignedTo, &assignedAt,
		&reviewedBy, &reviewedAt, &reviewComment, &submittedAt, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &f.MetaData); err != nil {
			return f, fmt.Errorf("meta_data for form %s: %w", f.ID, err)
		}
	}
	if insp.Valid && insp.String != "" {
		if err := json.Unmarshal([]byte(insp.String), &f.InspectionData); err != nil {
			return f, fmt.Errorf("inspection_data for form %s: %w", f.ID, err)
		}
	}
	if creatorName.Valid {
		f.CreatorName = creatorName.String
	}
	if creatorEmail.Valid {
		f.CreatorEmail = creatorEmail.String
	}
	f.AssignedTo = ptrFromNull(assignedTo)
	f.AssignedAt = ptrFromNull(assignedAt)
	f.ReviewedBy = ptrFromNull(reviewedBy)
	f.ReviewedAt = ptrFromNull(reviewedAt)
	f.ReviewComment = ptrFromNull(reviewComment)
	f.SubmittedAt = ptrFromNull(submittedAt)
	return f, nil
}

// MarshalDoc serializes an opaque document payload for storage.
func MarshalDoc(doc map[string]any) (*string, error) {
	s, err := marshalDoc(doc)
	if err != nil {
		return nil, err
	}
	if s == nil {
		empty := ""
		return &empty, nil
	}
	v := s.(string)
	return &v, nil
}

func marshalDoc(doc map[string]any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func ptrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
