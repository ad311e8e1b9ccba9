package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
	"inspectline/internal/store"
)

var (
	inspector  = domain.Identity{UID: "u1", Email: "u1@example.com", Name: "User One", Role: domain.RolePrimary}
	inspector2 = domain.Identity{UID: "u2", Email: "u2@example.com", Name: "User Two", Role: domain.RolePrimary}
	admin      = domain.Identity{UID: "a1", Email: "a1@inspectline.io", Name: "Admin One", Role: domain.RoleAdmin}
	admin2     = domain.Identity{UID: "a2", Email: "a2@inspectline.io", Name: "Admin Two", Role: domain.RoleAdmin}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustSave(t *testing.T, env testEnv, actor domain.Identity, p engine.SavePayload) domain.Form {
	t.Helper()
	f, err := env.Engine.Save(env.Ctx, actor, p)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	return f
}

func TestCreateDefaultsToDraft(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{
		Type:         "equipment",
		TemplateID:   "tpl-1",
		TemplateName: "Crane Inspection",
		MetaData:     map[string]any{"site": "north"},
	})
	if f.ID == "" {
		t.Fatalf("expected assigned id")
	}
	if f.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", f.Status)
	}
	if f.Creator != "u1" || f.CreatorEmail != "u1@example.com" || f.CreatorName != "User One" {
		t.Fatalf("creator fields not denormalized: %+v", f)
	}
	if f.CreatedAt == "" || f.UpdatedAt == "" {
		t.Fatalf("expected server timestamps")
	}
	got, err := env.Engine.Store.GetForm(env.Ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MetaData["site"] != "north" {
		t.Fatalf("meta_data round trip: %+v", got.MetaData)
	}
}

func TestSubmitApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment", TemplateID: "tpl-1"})

	res, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.OldStatus != domain.StatusDraft || res.NewStatus != domain.StatusPending {
		t.Fatalf("unexpected transition %s -> %s", res.OldStatus, res.NewStatus)
	}
	if res.Form.SubmittedAt == nil {
		t.Fatalf("expected submitted_at")
	}

	res, err = env.Engine.Operate(env.Ctx, f.ID, domain.ActionApprove, admin, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.NewStatus != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", res.NewStatus)
	}
	got, _ := env.Engine.Store.GetForm(env.Ctx, f.ID)
	if got.ReviewedBy == nil || *got.ReviewedBy != "a1" {
		t.Fatalf("expected reviewed_by a1")
	}
	if got.ReviewComment == nil || *got.ReviewComment != "ok" {
		t.Fatalf("expected review comment")
	}
	if got.ReviewedAt == nil {
		t.Fatalf("expected reviewed_at")
	}
}

func TestDeclineOnDraftIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	_, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionDecline, admin, "")
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestSubmitByNonCreatorForbidden(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	_, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector2, "")
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
}

func TestDeclinedFormEditAndResubmit(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionDecline, admin, "needs photos"); err != nil {
		t.Fatalf("decline: %v", err)
	}

	// creator can edit the declined form
	if _, err := env.Engine.Save(env.Ctx, inspector, engine.SavePayload{
		ID:             f.ID,
		Type:           "equipment",
		InspectionData: map[string]any{"photos": true},
	}); err != nil {
		t.Fatalf("edit declined: %v", err)
	}

	// and resubmit it
	res, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, "")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.NewStatus != domain.StatusPending {
		t.Fatalf("expected pending, got %s", res.NewStatus)
	}
	// prior review audit fields stay visible until the next review
	got, _ := env.Engine.Store.GetForm(env.Ctx, f.ID)
	if got.ReviewedBy == nil || *got.ReviewedBy != "a1" {
		t.Fatalf("expected previous reviewed_by to remain")
	}
	if got.ReviewComment == nil || *got.ReviewComment != "needs photos" {
		t.Fatalf("expected previous review comment to remain")
	}
}

func TestAssignThenApprove(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionAssign, admin, "")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if res.NewStatus != domain.StatusAssigned {
		t.Fatalf("expected assigned, got %s", res.NewStatus)
	}
	if res.Form.AssignedTo == nil || *res.Form.AssignedTo != "a1" {
		t.Fatalf("expected assigned_to a1")
	}
	// assign is informational; another admin can still review
	res, err = env.Engine.Operate(env.Ctx, f.ID, domain.ActionApprove, admin2, "")
	if err != nil {
		t.Fatalf("approve after assign: %v", err)
	}
	if res.NewStatus != domain.StatusApproved {
		t.Fatalf("expected approved, got %s", res.NewStatus)
	}
}

func TestTransitionTableCompleteness(t *testing.T) {
	// Every (action, status) pair outside the defined table must fail with
	// InvalidTransition; unrecognized actions with InvalidAction. Nothing
	// silently succeeds.
	allowed := map[string]map[string]bool{
		domain.ActionSubmit:  {domain.StatusDraft: true, domain.StatusDeclined: true},
		domain.ActionApprove: {domain.StatusPending: true, domain.StatusAssigned: true},
		domain.ActionDecline: {domain.StatusPending: true, domain.StatusAssigned: true},
		domain.ActionAssign:  {domain.StatusPending: true},
	}
	statuses := []string{domain.StatusDraft, domain.StatusPending, domain.StatusAssigned, domain.StatusApproved, domain.StatusDeclined}
	for action, okFrom := range allowed {
		for _, status := range statuses {
			t.Run(fmt.Sprintf("%s from %s", action, status), func(t *testing.T) {
				env := newTestEnv(t)
				f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment", Status: status})
				_, err := env.Engine.Operate(env.Ctx, f.ID, action, admin, "")
				if action == domain.ActionSubmit {
					// creator-only action
					_, err = env.Engine.Operate(env.Ctx, f.ID, action, inspector, "")
				}
				if okFrom[status] {
					if err != nil {
						t.Fatalf("expected %s from %s to succeed: %v", action, status, err)
					}
					return
				}
				var ite engine.InvalidTransitionError
				if !errors.As(err, &ite) {
					t.Fatalf("expected InvalidTransitionError for %s from %s, got %v", action, status, err)
				}
			})
		}
	}

	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	_, err := env.Engine.Operate(env.Ctx, f.ID, "escalate", admin, "")
	var iae engine.InvalidActionError
	if !errors.As(err, &iae) {
		t.Fatalf("expected InvalidActionError, got %v", err)
	}
}

func TestOperateMissingFormNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Operate(env.Ctx, "nope", domain.ActionSubmit, inspector, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreatorImmutableAcrossSaves(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// admin edits during review; creator must not change
	if _, err := env.Engine.Save(env.Ctx, admin, engine.SavePayload{ID: f.ID, Type: "equipment", MetaData: map[string]any{"note": "checked"}}); err != nil {
		t.Fatalf("admin edit: %v", err)
	}
	got, _ := env.Engine.Store.GetForm(env.Ctx, f.ID)
	if got.Creator != "u1" {
		t.Fatalf("creator rewritten to %s", got.Creator)
	}
	if got.CreatorEmail != "u1@example.com" || got.CreatorName != "User One" {
		t.Fatalf("creator identity rewritten: email=%s name=%s", got.CreatorEmail, got.CreatorName)
	}
	if m, ok := got.MetaData["note"]; !ok || m != "checked" {
		t.Fatalf("admin edit not applied: %v", got.MetaData)
	}
}

func TestSaveIdempotent(t *testing.T) {
	env := newTestEnv(t)
	payload := engine.SavePayload{Type: "equipment", TemplateID: "tpl-1", MetaData: map[string]any{"site": "north"}}
	f := mustSave(t, env, inspector, payload)
	payload.ID = f.ID
	first := mustSave(t, env, inspector, payload)
	second := mustSave(t, env, inspector, payload)
	first.UpdatedAt, second.UpdatedAt = "", ""
	if fmt.Sprintf("%+v", first) != fmt.Sprintf("%+v", second) {
		t.Fatalf("repeated save diverged:\n%+v\n%+v", first, second)
	}
}

func TestSavePermissionBranches(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})

	// non-creator primary cannot edit a draft
	_, err := env.Engine.Save(env.Ctx, inspector2, engine.SavePayload{ID: f.ID, Type: "equipment"})
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-creator, got %v", err)
	}
	// admin cannot edit a draft either; the admin branch needs pending
	_, err = env.Engine.Save(env.Ctx, admin, engine.SavePayload{ID: f.ID, Type: "equipment"})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for admin on draft, got %v", err)
	}

	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// creator cannot edit while pending
	_, err = env.Engine.Save(env.Ctx, inspector, engine.SavePayload{ID: f.ID, Type: "equipment"})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for creator on pending, got %v", err)
	}
	// admin can edit while pending
	if _, err := env.Engine.Save(env.Ctx, admin, engine.SavePayload{ID: f.ID, Type: "equipment"}); err != nil {
		t.Fatalf("admin edit pending: %v", err)
	}

	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionApprove, admin, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// nobody edits an approved form through save
	_, err = env.Engine.Save(env.Ctx, inspector, engine.SavePayload{ID: f.ID, Type: "equipment"})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for creator on approved, got %v", err)
	}
	_, err = env.Engine.Save(env.Ctx, admin, engine.SavePayload{ID: f.ID, Type: "equipment"})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for admin on approved, got %v", err)
	}
}

func TestConditionalUpdateLosesRaceLoudly(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// a writer that read "pending" but finds the status moved must not apply
	declined := domain.StatusDeclined
	applied, err := env.Engine.Store.UpdateFormWhereStatus(env.Ctx, nil, f.ID, domain.StatusDraft, store.FormPatch{Status: &declined})
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if applied {
		t.Fatalf("conditional update applied against stale status")
	}
	got, _ := env.Engine.Store.GetForm(env.Ctx, f.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status corrupted to %s", got.Status)
	}
}

func TestListVisibilityPartitioning(t *testing.T) {
	env := newTestEnv(t)
	mine := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	mustSave(t, env, inspector2, engine.SavePayload{Type: "equipment"})

	for _, mode := range []string{"", engine.ViewInspector, engine.ViewReviewer} {
		res, err := env.Engine.List(env.Ctx, inspector, engine.ListOptions{ViewMode: mode, Page: 1})
		if err != nil {
			t.Fatalf("list mode %q: %v", mode, err)
		}
		if len(res.Items) != 1 || res.Items[0].ID != mine.ID {
			t.Fatalf("mode %q leaked foreign forms: %d items", mode, len(res.Items))
		}
		for _, item := range res.Items {
			if item.Creator != inspector.UID {
				t.Fatalf("mode %q returned creator %s", mode, item.Creator)
			}
		}
	}
}

func TestReviewerPendingQueueSeesAllCreators(t *testing.T) {
	env := newTestEnv(t)
	f1 := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	f2 := mustSave(t, env, inspector2, engine.SavePayload{Type: "equipment"})
	for _, pair := range []struct {
		id    string
		actor domain.Identity
	}{{f1.ID, inspector}, {f2.ID, inspector2}} {
		if _, err := env.Engine.Operate(env.Ctx, pair.id, domain.ActionSubmit, pair.actor, ""); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res, err := env.Engine.List(env.Ctx, admin, engine.ListOptions{ViewMode: engine.ViewReviewer, Status: domain.StatusPending, Page: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected both pending forms in queue, got %d", len(res.Items))
	}

	// approved under reviewer mode is scoped to the reviewing admin
	if _, err := env.Engine.Operate(env.Ctx, f1.ID, domain.ActionApprove, admin, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.Operate(env.Ctx, f2.ID, domain.ActionApprove, admin2, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	res, err = env.Engine.List(env.Ctx, admin, engine.ListOptions{ViewMode: engine.ViewReviewer, Status: domain.StatusApproved, Page: 1})
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].ID != f1.ID {
		t.Fatalf("expected only forms reviewed by a1, got %d", len(res.Items))
	}

	// declined under reviewer mode falls back to creator scoping
	res, err = env.Engine.List(env.Ctx, admin, engine.ListOptions{ViewMode: engine.ViewReviewer, Status: domain.StatusDeclined, Page: 1})
	if err != nil {
		t.Fatalf("list declined: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("reviewer declined fallback leaked %d items", len(res.Items))
	}
}

func TestReviewerModeInertForNonAdmins(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector2, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector2, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.Engine.List(env.Ctx, inspector, engine.ListOptions{ViewMode: engine.ViewReviewer, Status: domain.StatusPending, Page: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 0 {
		t.Fatalf("reviewer mode granted non-admin the queue: %d items", len(res.Items))
	}
}

func TestPaginationArithmetic(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 23; i++ {
		mustSave(t, env, inspector, engine.SavePayload{Type: "equipment", MetaData: map[string]any{"n": i}})
	}
	res, err := env.Engine.List(env.Ctx, inspector, engine.ListOptions{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Pagination.Total != 23 || res.Pagination.TotalPages != 3 {
		t.Fatalf("unexpected pagination: %+v", res.Pagination)
	}
	if len(res.Items) != 10 {
		t.Fatalf("page 1 returned %d items", len(res.Items))
	}
	res, _ = env.Engine.List(env.Ctx, inspector, engine.ListOptions{Page: 3, PageSize: 10})
	if len(res.Items) != 3 {
		t.Fatalf("page 3 returned %d items", len(res.Items))
	}
	res, _ = env.Engine.List(env.Ctx, inspector, engine.ListOptions{Page: 4, PageSize: 10})
	if len(res.Items) != 0 {
		t.Fatalf("page 4 returned %d items", len(res.Items))
	}
}

func TestDisplayTimestamps(t *testing.T) {
	env := newTestEnv(t)
	mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	res, err := env.Engine.List(env.Ctx, inspector, engine.ListOptions{Page: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("expected one item")
	}
	item := res.Items[0]
	if item.CreatedAtDisplay == "" {
		t.Fatalf("expected created display time")
	}
	if item.SubmittedAtDisplay != "" || item.ReviewedAtDisplay != "" {
		t.Fatalf("absent timestamps must render empty, got %q %q", item.SubmittedAtDisplay, item.ReviewedAtDisplay)
	}
}

func TestGetVisibility(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	if _, err := env.Engine.Get(env.Ctx, inspector, f.ID); err != nil {
		t.Fatalf("creator get: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, admin, f.ID); err != nil {
		t.Fatalf("admin get: %v", err)
	}
	_, err := env.Engine.Get(env.Ctx, inspector2, f.ID)
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestLifecycleEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	f := mustSave(t, env, inspector, engine.SavePayload{Type: "equipment"})
	_, _ = env.Engine.Operate(env.Ctx, f.ID, domain.ActionSubmit, inspector, "")
	_, _ = env.Engine.Operate(env.Ctx, f.ID, domain.ActionApprove, admin, "")
	evts, err := env.Engine.Store.LatestEvents(env.Ctx, 10, "", "form", f.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 3 {
		t.Fatalf("expected created+submitted+approved events, got %d", len(evts))
	}
	if evts[0].Type != "form.approved" {
		t.Fatalf("expected newest event form.approved, got %s", evts[0].Type)
	}
}
