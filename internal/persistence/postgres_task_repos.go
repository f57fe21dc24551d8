package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"newsradar/internal/core"
)

// postgresTaskRepo implements TaskRepository for PostgreSQL.
type postgresTaskRepo struct {
	db *sql.DB
}

const taskColumns = `id, task_type, status, title, params, result, progress_current, progress_total,
	error_message, started_at, completed_at, created_at, updated_at`

func (r *postgresTaskRepo) Create(ctx context.Context, t *core.Task) error {
	paramsJSON, err := marshalJSONMap(t.Params)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO tasks (task_type, status, title, params)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		t.TaskType, t.Status, t.Title, paramsJSON,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return translateError(err)
}

func (r *postgresTaskRepo) Get(ctx context.Context, id int64) (*core.Task, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns), id)
	return scanTask(row)
}

func (r *postgresTaskRepo) List(ctx context.Context, opts ListOptions) ([]core.Task, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if opts.Status != "" {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, taskColumns),
			opts.Status, limit, opts.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM tasks ORDER BY created_at DESC LIMIT $1 OFFSET $2`, taskColumns),
			limit, opts.Offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *postgresTaskRepo) Update(ctx context.Context, t *core.Task) error {
	paramsJSON, err := marshalJSONMap(t.Params)
	if err != nil {
		return err
	}
	resultJSON, err := marshalJSONMap(t.Result)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = $2, title = $3, params = $4, result = $5,
			progress_current = $6, progress_total = $7, error_message = $8,
			started_at = $9, completed_at = $10, updated_at = NOW()
		WHERE id = $1`,
		t.ID, t.Status, t.Title, paramsJSON, resultJSON,
		t.ProgressCurrent, t.ProgressTotal, t.ErrorMessage, t.StartedAt, t.CompletedAt)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresTaskRepo) UpdateProgress(ctx context.Context, id int64, current, total int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET progress_current = $2, progress_total = $3, updated_at = NOW() WHERE id = $1`,
		id, current, total)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanTask(row rowScanner) (*core.Task, error) {
	var t core.Task
	var paramsJSON, resultJSON []byte
	err := row.Scan(&t.ID, &t.TaskType, &t.Status, &t.Title, &paramsJSON, &resultJSON,
		&t.ProgressCurrent, &t.ProgressTotal, &t.ErrorMessage, &t.StartedAt, &t.CompletedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if err := unmarshalJSONMap(paramsJSON, &t.Params); err != nil {
		return nil, err
	}
	if err := unmarshalJSONMap(resultJSON, &t.Result); err != nil {
		return nil, err
	}
	return &t, nil
}

// postgresTaskEventRepo implements TaskEventRepository for PostgreSQL.
type postgresTaskEventRepo struct {
	db *sql.DB
}

func (r *postgresTaskEventRepo) Append(ctx context.Context, e *core.TaskEvent) error {
	payloadJSON, err := marshalJSONMap(e.Payload)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO task_events (task_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		e.TaskID, e.EventType, payloadJSON,
	).Scan(&e.ID, &e.CreatedAt)
	return translateError(err)
}

func (r *postgresTaskEventRepo) ListByTask(ctx context.Context, taskID int64) ([]core.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, event_type, payload, created_at
		FROM task_events WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.TaskEvent
	for rows.Next() {
		var e core.TaskEvent
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.TaskID, &e.EventType, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONMap(payloadJSON, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// postgresScheduleRepo implements ScheduleRepository for PostgreSQL.
type postgresScheduleRepo struct {
	db *sql.DB
}

const scheduleColumns = `id, name, schedule_type, status, interval_minutes, max_executions,
	execution_count, config, last_run_at, next_run_at, last_status, last_error, created_at, updated_at`

func (r *postgresScheduleRepo) Create(ctx context.Context, s *core.Schedule) error {
	configJSON, err := marshalJSONMap(s.Config)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO schedules (name, schedule_type, status, interval_minutes, max_executions, config, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		s.Name, s.ScheduleType, s.Status, s.IntervalMin, s.MaxExecutions, configJSON, s.NextRunAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return translateError(err)
}

func (r *postgresScheduleRepo) Get(ctx context.Context, id int64) (*core.Schedule, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleColumns), id)
	return scanSchedule(row)
}

func (r *postgresScheduleRepo) List(ctx context.Context, opts ListOptions) ([]core.Schedule, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM schedules ORDER BY id LIMIT $1 OFFSET $2`, scheduleColumns),
		limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *postgresScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]core.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM schedules
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at`, scheduleColumns), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *postgresScheduleRepo) Update(ctx context.Context, s *core.Schedule) error {
	configJSON, err := marshalJSONMap(s.Config)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET name = $2, schedule_type = $3, status = $4, interval_minutes = $5,
			max_executions = $6, execution_count = $7, config = $8, last_run_at = $9,
			next_run_at = $10, last_status = $11, last_error = $12, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.ScheduleType, s.Status, s.IntervalMin, s.MaxExecutions,
		s.ExecutionCount, configJSON, s.LastRunAt, s.NextRunAt, s.LastStatus, s.LastError)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresScheduleRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanSchedule(row rowScanner) (*core.Schedule, error) {
	var s core.Schedule
	var configJSON []byte
	err := row.Scan(&s.ID, &s.Name, &s.ScheduleType, &s.Status, &s.IntervalMin,
		&s.MaxExecutions, &s.ExecutionCount, &configJSON, &s.LastRunAt, &s.NextRunAt,
		&s.LastStatus, &s.LastError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	if err := unmarshalJSONMap(configJSON, &s.Config); err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSchedules(rows *sql.Rows) ([]core.Schedule, error) {
	var schedules []core.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// postgresKeywordRepo implements KeywordRepository for PostgreSQL.
type postgresKeywordRepo struct {
	db *sql.DB
}

const keywordColumns = `id, keyword, time_range, max_results, region, is_active, usage_count, last_used_at, created_at`

func (r *postgresKeywordRepo) Create(ctx context.Context, k *core.SearchKeyword) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO search_keywords (keyword, time_range, max_results, region, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		k.Keyword, k.TimeRange, k.MaxResults, k.Region, k.IsActive,
	).Scan(&k.ID, &k.CreatedAt)
	return translateError(err)
}

func (r *postgresKeywordRepo) Get(ctx context.Context, id int64) (*core.SearchKeyword, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM search_keywords WHERE id = $1`, keywordColumns), id)
	return scanKeyword(row)
}

func (r *postgresKeywordRepo) List(ctx context.Context, opts ListOptions) ([]core.SearchKeyword, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM search_keywords ORDER BY id LIMIT $1 OFFSET $2`, keywordColumns),
		limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeywords(rows)
}

func (r *postgresKeywordRepo) ListActive(ctx context.Context) ([]core.SearchKeyword, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM search_keywords WHERE is_active ORDER BY id`, keywordColumns))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectKeywords(rows)
}

func (r *postgresKeywordRepo) Update(ctx context.Context, k *core.SearchKeyword) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE search_keywords SET keyword = $2, time_range = $3, max_results = $4,
			region = $5, is_active = $6
		WHERE id = $1`,
		k.ID, k.Keyword, k.TimeRange, k.MaxResults, k.Region, k.IsActive)
	if err != nil {
		return translateError(err)
	}
	return requireRow(result)
}

func (r *postgresKeywordRepo) RecordUsage(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE search_keywords SET usage_count = usage_count + 1, last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (r *postgresKeywordRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM search_keywords WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func scanKeyword(row rowScanner) (*core.SearchKeyword, error) {
	var k core.SearchKeyword
	err := row.Scan(&k.ID, &k.Keyword, &k.TimeRange, &k.MaxResults, &k.Region,
		&k.IsActive, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return &k, nil
}

func collectKeywords(rows *sql.Rows) ([]core.SearchKeyword, error) {
	var keywords []core.SearchKeyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, *k)
	}
	return keywords, rows.Err()
}

func marshalJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON blob: %w", err)
	}
	return data, nil
}

func unmarshalJSONMap(data []byte, target *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON blob: %w", err)
	}
	if len(*target) == 0 {
		*target = nil
	}
	return nil
}
