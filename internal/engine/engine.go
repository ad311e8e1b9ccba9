package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/events"
	"inspectline/internal/store"
)

type Engine struct {
	DB     *sql.DB
	Store  store.Store
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Store:  store.Store{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SavePayload carries the writable content of a form. Status is optional;
// on create it defaults to draft.
type SavePayload struct {
	ID             string
	Type           string
	TemplateID     string
	TemplateName   string
	MetaData       map[string]any
	InspectionData map[string]any
	Status         string
}

func validStatus(s string) bool {
	switch s {
	case domain.StatusDraft, domain.StatusPending, domain.StatusAssigned, domain.StatusApproved, domain.StatusDeclined:
		return true
	}
	return false
}

// Save creates a new form or updates an editable existing one. This is a
// content path, deliberately distinct from Operate: an admin may edit a
// pending form during review, and a creator may edit drafts and declined
// forms, all without a formal status transition. Do not merge the two
// permission predicates; they differ on purpose (Operate's submit requires
// the creator, Save's admin branch ignores the creator entirely).
func (e Engine) Save(ctx context.Context, actor domain.Identity, p SavePayload) (domain.Form, error) {
	if actor.UID == "" {
		return domain.Form{}, errors.New("actor uid required")
	}
	if p.Status != "" && !validStatus(p.Status) {
		return domain.Form{}, fmt.Errorf("invalid status %q", p.Status)
	}
	if p.ID == "" {
		return e.create(ctx, actor, p)
	}
	return e.update(ctx, actor, p)
}

func (e Engine) create(ctx context.Context, actor domain.Identity, p SavePayload) (domain.Form, error) {
	status := p.Status
	if status == "" {
		status = domain.StatusDraft
	}
	now := e.nowString()
	f := domain.Form{
		ID:             uuid.New().String(),
		Type:           p.Type,
		TemplateID:     p.TemplateID,
		TemplateName:   p.TemplateName,
		MetaData:       p.MetaData,
		InspectionData: p.InspectionData,
		Status:         status,
		Creator:        actor.UID,
		CreatorName:    actor.Name,
		CreatorEmail:   actor.Email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Form{}, err
	}
	defer tx.Rollback()
	if err := e.Store.InsertForm(ctx, tx, f); err != nil {
		return domain.Form{}, fmt.Errorf("insert form: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "form.created", "form", f.ID, actor.UID, events.EventPayload{
		"status":      f.Status,
		"template_id": f.TemplateID,
	}); err != nil {
		return domain.Form{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Form{}, err
	}
	return f, nil
}

func (e Engine) update(ctx context.Context, actor domain.Identity, p SavePayload) (domain.Form, error) {
	existing, err := e.Store.GetForm(ctx, p.ID)
	if err != nil {
		return domain.Form{}, err
	}
	if err := saveAllowed(actor, existing); err != nil {
		return domain.Form{}, err
	}

	meta, err := store.MarshalDoc(p.MetaData)
	if err != nil {
		return domain.Form{}, fmt.Errorf("meta_data: %w", err)
	}
	insp, err := store.MarshalDoc(p.InspectionData)
	if err != nil {
		return domain.Form{}, fmt.Errorf("inspection_data: %w", err)
	}
	now := e.nowString()
	patch := store.FormPatch{
		Type:               &p.Type,
		TemplateID:         &p.TemplateID,
		TemplateName:       &p.TemplateName,
		MetaDataJSON:       meta,
		InspectionDataJSON: insp,
		UpdatedAt:          &now,
	}
	// creator_name/creator_email are display copies of the creator's
	// identity; an admin editing during review must not overwrite them.
	if actor.UID == existing.Creator {
		patch.CreatorName = &actor.Name
		patch.CreatorEmail = &actor.Email
	}
	if p.Status != "" {
		patch.Status = &p.Status
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Form{}, err
	}
	defer tx.Rollback()
	if err := e.Store.UpdateForm(ctx, tx, existing.ID, patch); err != nil {
		return domain.Form{}, err
	}
	if err := e.Events.Append(ctx, tx, "form.updated", "form", existing.ID, actor.UID, events.EventPayload{
		"from_status": existing.Status,
		"to_status":   valueOr(patch.Status, existing.Status),
	}); err != nil {
		return domain.Form{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Form{}, err
	}

	existing.Type = p.Type
	existing.TemplateID = p.TemplateID
	existing.TemplateName = p.TemplateName
	existing.MetaData = p.MetaData
	existing.InspectionData = p.InspectionData
	if p.Status != "" {
		existing.Status = p.Status
	}
	if actor.UID == existing.Creator {
		existing.CreatorName = actor.Name
		existing.CreatorEmail = actor.Email
	}
	existing.UpdatedAt = now
	return existing, nil
}

// saveAllowed evaluates the save permission as an OR of two branches:
// an admin may edit any pending form (review annotation), otherwise the
// actor must be the creator and the form must be draft or declined.
func saveAllowed(actor domain.Identity, f domain.Form) error {
	if f.Status == domain.StatusPending && actor.IsAdmin() {
		return nil
	}
	if actor.UID != f.Creator {
		return ForbiddenError{Reason: "only the creator can edit this form"}
	}
	if f.Status != domain.StatusDraft && f.Status != domain.StatusDeclined {
		return ForbiddenError{Reason: "only draft or declined forms can be updated"}
	}
	return nil
}

// OperateResult reports a completed lifecycle transition.
type OperateResult struct {
	FormID    string
	OldStatus string
	NewStatus string
	Action    string
	Form      domain.Form
}

// Operate applies a lifecycle action to a form. The precondition check runs
// against a read, but the write is conditional on the status still matching
// that read; a lost race surfaces as ConflictError instead of silently
// corrupting the audit trail.
func (e Engine) Operate(ctx context.Context, formID, action string, actor domain.Identity, comment string) (OperateResult, error) {
	f, err := e.Store.GetForm(ctx, formID)
	if err != nil {
		return OperateResult{}, err
	}
	now := e.nowString()
	patch := store.FormPatch{UpdatedAt: &now}
	var newStatus string

	switch action {
	case domain.ActionSubmit:
		if actor.UID != f.Creator {
			return OperateResult{}, ForbiddenError{Reason: "only the creator can submit this form"}
		}
		// Declined forms loop back through editing and are re-submittable.
		if f.Status != domain.StatusDraft && f.Status != domain.StatusDeclined {
			return OperateResult{}, InvalidTransitionError{Action: action, Status: f.Status}
		}
		newStatus = domain.StatusPending
		patch.SubmittedAt = &now
	case domain.ActionApprove, domain.ActionDecline:
		if !actor.IsAdmin() {
			return OperateResult{}, ForbiddenError{Reason: "only admins can review forms"}
		}
		// Assign is an informational claim; it does not block review.
		if f.Status != domain.StatusPending && f.Status != domain.StatusAssigned {
			return OperateResult{}, InvalidTransitionError{Action: action, Status: f.Status}
		}
		if action == domain.ActionApprove {
			newStatus = domain.StatusApproved
		} else {
			newStatus = domain.StatusDeclined
		}
		patch.ReviewedBy = &actor.UID
		patch.ReviewedAt = &now
		if comment != "" {
			patch.ReviewComment = &comment
		}
	case domain.ActionAssign:
		if !actor.IsAdmin() {
			return OperateResult{}, ForbiddenError{Reason: "only admins can claim forms"}
		}
		if f.Status != domain.StatusPending {
			return OperateResult{}, InvalidTransitionError{Action: action, Status: f.Status}
		}
		newStatus = domain.StatusAssigned
		patch.AssignedTo = &actor.UID
		patch.AssignedAt = &now
	default:
		return OperateResult{}, InvalidActionError{Action: action}
	}
	patch.Status = &newStatus

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OperateResult{}, err
	}
	defer tx.Rollback()

	applied, err := e.Store.UpdateFormWhereStatus(ctx, tx, f.ID, f.Status, patch)
	if err != nil {
		return OperateResult{}, err
	}
	if !applied {
		return OperateResult{}, ConflictError{FormID: f.ID, Expected: f.Status}
	}
	if err := e.Events.Append(ctx, tx, "form."+eventName(action), "form", f.ID, actor.UID, events.EventPayload{
		"from_status": f.Status,
		"to_status":   newStatus,
	}); err != nil {
		return OperateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return OperateResult{}, err
	}

	oldStatus := f.Status
	f.Status = newStatus
	f.UpdatedAt = now
	switch action {
	case domain.ActionSubmit:
		f.SubmittedAt = &now
	case domain.ActionApprove, domain.ActionDecline:
		f.ReviewedBy = &actor.UID
		f.ReviewedAt = &now
		if comment != "" {
			f.ReviewComment = &comment
		}
	case domain.ActionAssign:
		f.AssignedTo = &actor.UID
		f.AssignedAt = &now
	}
	return OperateResult{
		FormID:    f.ID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Action:    action,
		Form:      f,
	}, nil
}

func eventName(action string) string {
	switch action {
	case domain.ActionSubmit:
		return "submitted"
	case domain.ActionApprove:
		return "approved"
	case domain.ActionDecline:
		return "declined"
	case domain.ActionAssign:
		return "assigned"
	}
	return action
}

// Get returns a form if the actor is entitled to see it: its creator, or
// any admin.
func (e Engine) Get(ctx context.Context, actor domain.Identity, id string) (domain.Form, error) {
	f, err := e.Store.GetForm(ctx, id)
	if err != nil {
		return domain.Form{}, err
	}
	if !actor.IsAdmin() && f.Creator != actor.UID {
		return domain.Form{}, ForbiddenError{Reason: "form belongs to another user"}
	}
	return f, nil
}

// View modes for List.
const (
	ViewInspector = "inspector"
	ViewReviewer  = "reviewer"
)

type ListOptions struct {
	Status   string
	ViewMode string
	Page     int
	PageSize int
}

type ListItem struct {
	domain.Form
	CreatedAtDisplay   string `json:"created_at_display"`
	SubmittedAtDisplay string `json:"submitted_at_display"`
	ReviewedAtDisplay  string `json:"reviewed_at_display"`
}

type ListResult struct {
	Items      []ListItem
	Pagination domain.Pagination
}

// List builds the filtered, paginated view the actor is entitled to.
// Inspector mode (the default) is always creator-scoped, for admins too.
// Reviewer mode only means something to admins: pending is the global
// review queue, approved is scoped to forms this admin reviewed, and every
// other status falls back to creator scoping.
func (e Engine) List(ctx context.Context, actor domain.Identity, opts ListOptions) (ListResult, error) {
	if actor.UID == "" {
		return ListResult{}, errors.New("actor uid required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = e.Config.Forms.DefaultPageSize
	}
	if max := e.Config.Forms.MaxPageSize; max > 0 && pageSize > max {
		pageSize = max
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	status := opts.Status
	if status == "all" {
		status = ""
	}
	if status != "" && !validStatus(status) {
		return ListResult{}, fmt.Errorf("invalid status %q", status)
	}

	var filters store.FormFilters
	if opts.ViewMode == ViewReviewer && actor.IsAdmin() {
		switch status {
		case domain.StatusPending:
			filters.Status = domain.StatusPending
		case domain.StatusApproved:
			filters.Status = domain.StatusApproved
			filters.ReviewedBy = actor.UID
		default:
			filters.Creator = actor.UID
			filters.Status = status
		}
	} else {
		filters.Creator = actor.UID
		filters.Status = status
	}

	total, err := e.Store.CountForms(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	filters.Limit = pageSize
	filters.Offset = (page - 1) * pageSize
	forms, err := e.Store.ListForms(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}

	items := make([]ListItem, 0, len(forms))
	for _, f := range forms {
		items = append(items, ListItem{
			Form:               f,
			CreatedAtDisplay:   DisplayTime(f.CreatedAt),
			SubmittedAtDisplay: DisplayTimePtr(f.SubmittedAt),
			ReviewedAtDisplay:  DisplayTimePtr(f.ReviewedAt),
		})
	}
	return ListResult{
		Items: items,
		Pagination: domain.Pagination{
			Current:    page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

// DisplayTime renders a stored RFC3339 timestamp as a human-readable local
// string; absent or unparsable values render empty.
func DisplayTime(ts string) string {
	if ts == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

func DisplayTimePtr(ts *string) string {
	if ts == nil {
		return ""
	}
	return DisplayTime(*ts)
}

func valueOr(v *string, fallback string) string {
	if v != nil {
		return *v
	}
	return fallback
}
