package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"inspectline/internal/domain"
)

// Templates are collaborator-owned and read-only to the core; the only write
// path is an explicit import.

func (s Store) UpsertTemplate(ctx context.Context, t domain.Template) error {
	fields, err := json.Marshal(t.FormFields)
	if err != nil {
		return fmt.Errorf("form_fields: %w", err)
	}
	items, err := json.Marshal(t.InspectionItems)
	if err != nil {
		return fmt.Errorf("inspection_items: %w", err)
	}
	guidance, err := marshalDoc(t.GuidanceContent)
	if err != nil {
		return fmt.Errorf("guidance_content: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO templates(id,name,description,type,icon,color,is_active,form_fields_json,inspection_items_json,guidance_json,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description, type=excluded.type,
icon=excluded.icon, color=excluded.color, is_active=excluded.is_active,
form_fields_json=excluded.form_fields_json, inspection_items_json=excluded.inspection_items_json, guidance_json=excluded.guidance_json`,
		t.ID, t.Name, nullable(t.Description), t.Type, nullable(t.Icon), nullable(t.Color),
		boolToInt(t.IsActive), string(fields), string(items), guidance, t.CreatedAt)
	return err
}

func (s Store) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),type,COALESCE(icon,''),COALESCE(color,''),is_active,form_fields_json,inspection_items_json,guidance_json,created_at FROM templates WHERE id=?`, id)
	return scanTemplate(row.Scan)
}

func (s Store) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.Template, error) {
	query := `SELECT id,name,COALESCE(description,''),type,COALESCE(icon,''),COALESCE(color,''),is_active,form_fields_json,inspection_items_json,guidance_json,created_at FROM templates`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY name ASC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func scanTemplate(scan func(dest ...any) error) (domain.Template, error) {
	var t domain.Template
	var active int
	var fields, items, guidance sql.NullString
	err := scan(&t.ID, &t.Name, &t.Description, &t.Type, &t.Icon, &t.Color, &active, &fields, &items, &guidance, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.IsActive = active != 0
	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &t.FormFields); err != nil {
			return t, fmt.Errorf("form_fields for template %s: %w", t.ID, err)
		}
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &t.InspectionItems); err != nil {
			return t, fmt.Errorf("inspection_items for template %s: %w", t.ID, err)
		}
	}
	if guidance.Valid && guidance.String != "" {
		if err := json.Unmarshal([]byte(guidance.String), &t.GuidanceContent); err != nil {
			return t, fmt.Errorf("guidance_content for template %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
