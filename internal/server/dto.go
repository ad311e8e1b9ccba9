package server

import (
	"inspectline/internal/domain"
	"inspectline/internal/engine"
)

// SaveFormRequest carries the writable fields of a form. ID empty means
// create; status is optional and defaults to draft on create.
type SaveFormRequest struct {
	ID             string         `json:"id,omitempty"`
	Type           string         `json:"type"`
	TemplateID     string         `json:"template_id,omitempty"`
	TemplateName   string         `json:"template_name,omitempty"`
	MetaData       map[string]any `json:"meta_data,omitempty" jsonschema:"type=object,additionalProperties=true"`
	InspectionData map[string]any `json:"inspection_data,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Status         string         `json:"status,omitempty" enum:",draft,pending,assigned,approved,declined"`
}

type OperateFormRequest struct {
	Action  string `json:"action" enum:"submit,approve,decline,assign"`
	Comment string `json:"comment,omitempty"`
}

// FormEnvelope is the mutation response contract: success flag, the saved
// document, and a human-readable message.
type FormEnvelope struct {
	Success bool        `json:"success"`
	Data    domain.Form `json:"data"`
	Message string      `json:"message,omitempty"`
}

type OperateData struct {
	Form      domain.Form `json:"form"`
	OldStatus string      `json:"old_status"`
	NewStatus string      `json:"new_status"`
	Action    string      `json:"action"`
}

type OperateEnvelope struct {
	Success bool        `json:"success"`
	Data    OperateData `json:"data"`
	Message string      `json:"message,omitempty"`
}

type FormListItem struct {
	domain.Form
	CreatedAtDisplay   string `json:"created_at_display"`
	SubmittedAtDisplay string `json:"submitted_at_display"`
	ReviewedAtDisplay  string `json:"reviewed_at_display"`
}

type paginatedForms struct {
	Items      []FormListItem    `json:"items"`
	Pagination domain.Pagination `json:"pagination"`
}

func formListResponse(res engine.ListResult) paginatedForms {
	items := make([]FormListItem, 0, len(res.Items))
	for _, it := range res.Items {
		items = append(items, FormListItem{
			Form:               it.Form,
			CreatedAtDisplay:   it.CreatedAtDisplay,
			SubmittedAtDisplay: it.SubmittedAtDisplay,
			ReviewedAtDisplay:  it.ReviewedAtDisplay,
		})
	}
	return paginatedForms{Items: items, Pagination: res.Pagination}
}

type ImportTemplateRequest struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Type            string         `json:"type"`
	Icon            string         `json:"icon,omitempty"`
	Color           string         `json:"color,omitempty"`
	IsActive        *bool          `json:"is_active,omitempty"`
	FormFields      []any          `json:"form_fields,omitempty"`
	InspectionItems []any          `json:"inspection_items,omitempty"`
	GuidanceContent map[string]any `json:"guidance_content,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type CreateAPIKeyRequest struct {
	ActorID    string `json:"actor_id"`
	ActorEmail string `json:"actor_email"`
	Name       string `json:"name,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key exactly once; only the
// hash is stored.
type CreateAPIKeyResponse struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	ActorEmail string `json:"actor_email"`
	Name       string `json:"name,omitempty"`
	Key        string `json:"key"`
	CreatedAt  string `json:"created_at"`
}

type APIKeyResponse struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	ActorEmail string `json:"actor_email"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		ActorID:    k.ActorID,
		ActorEmail: k.ActorEmail,
		Name:       k.Name,
		CreatedAt:  k.CreatedAt,
	}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

type MeResponse struct {
	UID    string `json:"uid"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
	Source string `json:"source"`
}

type DevLoginRequest struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
