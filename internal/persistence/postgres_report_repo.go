package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"newsradar/internal/core"
)

// postgresReportRepo implements ReportRepository for PostgreSQL.
type postgresReportRepo struct {
	db *sql.DB
}

const reportColumns = `id, title, time_range_start, time_range_end, template_id, language, status,
	agent_stage, progress, content, sections, error_message, created_at, updated_at`

func (r *postgresReportRepo) Create(ctx context.Context, rep *core.Report) error {
	sectionsJSON, err := marshalSections(rep.Sections)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO reports (title, time_range_start, time_range_end, template_id, language,
			status, agent_stage, progress, content, sections)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		rep.Title, rep.TimeRangeStart, rep.TimeRangeEnd, rep.TemplateID, rep.Language,
		rep.Status, rep.AgentStage, rep.Progress, rep.Content, sectionsJSON,
	).Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
	return translateError(err)
}

func (r *postgresReportRepo) Get(ctx context.Context, id int64) (*core.Report, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM reports WHERE id = $1`, reportColumns), id)
	return scanReport(row)
}

func (r *postgresReportRepo) List(ctx context.Context, opts ListOptions) ([]core.Report, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if opts.Status != "" {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM reports WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, reportColumns),
			opts.Status, limit, opts.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM reports ORDER BY created_at DESC LIMIT $1 OFFSET $2`, reportColumns),
			limit, opts.Offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []core.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

func (r *postgresReportRepo) Update(ctx context.Context, rep *core.Report) error {
	sectionsJSON, err := marshalSections(rep.Sections)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE reports SET title = $2, status = $3, agent_stage = $4, progress = $5,
			content = $6, sections = $7, error_message = $8, updated_at = NOW()
		WHERE id = $1`,
		rep.ID, rep.Title, rep.Status, rep.AgentStage, rep.Progress,
		rep.Content, sectionsJSON, rep.ErrorMessage)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresReportRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresReportRepo) AddReference(ctx context.Context, ref *core.Reference) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO report_references (report_id, article_id, citation_index, snippet)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		ref.ReportID, ref.ArticleID, ref.CitationIndex, ref.Snippet,
	).Scan(&ref.ID)
	return translateError(err)
}

func (r *postgresReportRepo) ListReferences(ctx context.Context, reportID int64) ([]core.Reference, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, report_id, article_id, citation_index, snippet
		FROM report_references WHERE report_id = $1 ORDER BY citation_index`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []core.Reference
	for rows.Next() {
		var ref core.Reference
		if err := rows.Scan(&ref.ID, &ref.ReportID, &ref.ArticleID, &ref.CitationIndex, &ref.Snippet); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanReport(row rowScanner) (*core.Report, error) {
	var rep core.Report
	var sectionsJSON []byte
	err := row.Scan(&rep.ID, &rep.Title, &rep.TimeRangeStart, &rep.TimeRangeEnd,
		&rep.TemplateID, &rep.Language, &rep.Status, &rep.AgentStage, &rep.Progress,
		&rep.Content, &sectionsJSON, &rep.ErrorMessage, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if len(sectionsJSON) > 0 {
		if err := json.Unmarshal(sectionsJSON, &rep.Sections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
		}
	}
	return &rep, nil
}

func marshalSections(sections []core.ReportSection) ([]byte, error) {
	if sections == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sections: %w", err)
	}
	return data, nil
}
