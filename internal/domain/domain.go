package domain

// Role of an authenticated actor, derived from the email domain.
type Role string

const (
	RolePrimary Role = "primary"
	RoleAdmin   Role = "admin"
)

// Form statuses.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusAssigned = "assigned"
	StatusApproved = "approved"
	StatusDeclined = "declined"
)

// Lifecycle actions.
const (
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionDecline = "decline"
	ActionAssign  = "assign"
)

// Identity is the verified caller, recomputed from auth claims per request.
// Never persisted.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Form is the central inspection-report document.
// MetaData and InspectionData are opaque to the core; the template
// subsystem owns their shape.
type Form struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	TemplateID     string         `json:"template_id"`
	TemplateName   string         `json:"template_name"`
	MetaData       map[string]any `json:"meta_data,omitempty"`
	InspectionData map[string]any `json:"inspection_data,omitempty"`
	Status         string         `json:"status" enum:"draft,pending,assigned,approved,declined"`
	Creator        string         `json:"creator"`
	CreatorName    string         `json:"creator_name,omitempty"`
	CreatorEmail   string         `json:"creator_email,omitempty"`
	AssignedTo     *string        `json:"assigned_to,omitempty"`
	AssignedAt     *string        `json:"assigned_at,omitempty" format:"date-time"`
	ReviewedBy     *string        `json:"reviewed_by,omitempty"`
	ReviewedAt     *string        `json:"reviewed_at,omitempty" format:"date-time"`
	ReviewComment  *string        `json:"review_comment,omitempty"`
	SubmittedAt    *string        `json:"submitted_at,omitempty" format:"date-time"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

// Template is read-only collaborator data; the core only denormalizes
// ID and Name into forms.
type Template struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Type            string         `json:"type"`
	Icon            string         `json:"icon,omitempty"`
	Color           string         `json:"color,omitempty"`
	IsActive        bool           `json:"is_active"`
	FormFields      []any          `json:"form_fields,omitempty"`
	InspectionItems []any          `json:"inspection_items,omitempty"`
	GuidanceContent map[string]any `json:"guidance_content,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	ActorEmail string `json:"actor_email"`
	Name       string `json:"name,omitempty"`
	KeyHash    string `json:"key_hash"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Pagination describes the 1-indexed page arithmetic of list responses.
type Pagination struct {
	Current    int `json:"current"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
