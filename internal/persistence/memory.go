package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"newsradar/internal/core"
)

// MemoryDB is an in-memory Database used in tests and for local
// development without Postgres. All repositories share one mutex; the
// implementation favors clarity over throughput.
type MemoryDB struct {
	mu sync.Mutex

	nextID    int64
	sources   map[int64]*core.CrawlSource
	sitemaps  map[int64]*core.Sitemap
	pending   map[int64]*core.PendingArticle
	articles  map[int64]*core.Article
	tasks     map[int64]*core.Task
	events    []core.TaskEvent
	schedules map[int64]*core.Schedule
	keywords  map[int64]*core.SearchKeyword
	reports   map[int64]*core.Report
	refs      []core.Reference
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		sources:   make(map[int64]*core.CrawlSource),
		sitemaps:  make(map[int64]*core.Sitemap),
		pending:   make(map[int64]*core.PendingArticle),
		articles:  make(map[int64]*core.Article),
		tasks:     make(map[int64]*core.Task),
		schedules: make(map[int64]*core.Schedule),
		keywords:  make(map[int64]*core.SearchKeyword),
		reports:   make(map[int64]*core.Report),
	}
}

func (m *MemoryDB) Sources() SourceRepository { return &memSourceRepo{m} }
func (m *MemoryDB) Sitemaps() SitemapRepository { return &memSitemapRepo{m} }
func (m *MemoryDB) Pending() PendingRepository { return &memPendingRepo{m} }
func (m *MemoryDB) Articles() ArticleRepository { return &memArticleRepo{m} }
func (m *MemoryDB) Tasks() TaskRepository { return &memTaskRepo{m} }
func (m *MemoryDB) TaskEvents() TaskEventRepository { return &memTaskEventRepo{m} }
func (m *MemoryDB) Schedules() ScheduleRepository { return &memScheduleRepo{m} }
func (m *MemoryDB) Keywords() KeywordRepository { return &memKeywordRepo{m} }
func (m *MemoryDB) Reports() ReportRepository { return &memReportRepo{m} }

func (m *MemoryDB) Ping(ctx context.Context) error { return nil }
func (m *MemoryDB) Close() error { return nil }

func (m *MemoryDB) id() int64 {
	m.nextID++
	return m.nextID
}

// --- sources ---

type memSourceRepo struct{ db *MemoryDB }

func (r *memSourceRepo) Create(ctx context.Context, s *core.CrawlSource) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.sources {
		if existing.BaseURL == s.BaseURL {
			return core.ErrConflict
		}
	}
	s.ID = r.db.id()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	r.db.sources[s.ID] = &cp
	return nil
}

func (r *memSourceRepo) Get(ctx context.Context, id int64) (*core.CrawlSource, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSourceRepo) GetByBaseURL(ctx context.Context, baseURL string) (*core.CrawlSource, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.sources {
		if s.BaseURL == baseURL {
			cp := *s
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *memSourceRepo) List(ctx context.Context, opts ListOptions) ([]core.CrawlSource, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.CrawlSource
	for _, s := range r.db.sources {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r *memSourceRepo) ListEnabled(ctx context.Context) ([]core.CrawlSource, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.CrawlSource
	for _, s := range r.db.sources {
		if s.Enabled {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSourceRepo) Update(ctx context.Context, s *core.CrawlSource) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sources[s.ID]; !ok {
		return core.ErrNotFound
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.db.sources[s.ID] = &cp
	return nil
}

func (r *memSourceRepo) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sources[id]
	if !ok {
		return core.ErrNotFound
	}
	s.Enabled = enabled
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memSourceRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sources[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.sources, id)
	return nil
}

// --- sitemaps ---

type memSitemapRepo struct{ db *MemoryDB }

func (r *memSitemapRepo) Create(ctx context.Context, sm *core.Sitemap) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	sm.ID = r.db.id()
	sm.CreatedAt = time.Now().UTC()
	cp := *sm
	r.db.sitemaps[sm.ID] = &cp
	return nil
}

func (r *memSitemapRepo) Get(ctx context.Context, id int64) (*core.Sitemap, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	sm, ok := r.db.sitemaps[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *sm
	return &cp, nil
}

func (r *memSitemapRepo) GetByURL(ctx context.Context, url string) (*core.Sitemap, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, sm := range r.db.sitemaps {
		if sm.URL == url {
			cp := *sm
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *memSitemapRepo) ListBySource(ctx context.Context, sourceID int64) ([]core.Sitemap, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Sitemap
	for _, sm := range r.db.sitemaps {
		if sm.SourceID == sourceID {
			out = append(out, *sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memSitemapRepo) Update(ctx context.Context, sm *core.Sitemap) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sitemaps[sm.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *sm
	r.db.sitemaps[sm.ID] = &cp
	return nil
}

func (r *memSitemapRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.sitemaps[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.sitemaps, id)
	for pid, p := range r.db.pending {
		if p.SitemapID != nil && *p.SitemapID == id {
			delete(r.db.pending, pid)
		}
	}
	return nil
}

// --- pending ---

type memPendingRepo struct{ db *MemoryDB }

func (r *memPendingRepo) Create(ctx context.Context, p *core.PendingArticle) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.pending {
		if existing.URLHash == p.URLHash {
			return core.ErrConflict
		}
	}
	p.ID = r.db.id()
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.db.pending[p.ID] = &cp
	return nil
}

func (r *memPendingRepo) Get(ctx context.Context, id int64) (*core.PendingArticle, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.pending[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPendingRepo) ExistsByHash(ctx context.Context, urlHash string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.pending {
		if p.URLHash == urlHash {
			return true, nil
		}
	}
	return false, nil
}

func (r *memPendingRepo) ListForCrawl(ctx context.Context, sourceID int64, limit int) ([]core.PendingArticle, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.PendingArticle
	for _, p := range r.db.pending {
		if p.SourceID == sourceID && p.Status == core.PendingStatusPending {
			out = append(out, *p)
		}
	}
	// publish_time DESC NULLS LAST, created_at DESC
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].PublishTime, out[j].PublishTime
		switch {
		case pi != nil && pj != nil && !pi.Equal(*pj):
			return pi.After(*pj)
		case pi != nil && pj == nil:
			return true
		case pi == nil && pj != nil:
			return false
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPendingRepo) ListByStatus(ctx context.Context, status string, limit int) ([]core.PendingArticle, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.PendingArticle
	for _, p := range r.db.pending {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPendingRepo) List(ctx context.Context, opts ListOptions) ([]core.PendingArticle, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.PendingArticle
	for _, p := range r.db.pending {
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		if opts.SourceID != 0 && p.SourceID != opts.SourceID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r *memPendingRepo) CountByStatus(ctx context.Context, sourceID int64) (map[string]int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	counts := make(map[string]int64)
	for _, p := range r.db.pending {
		if sourceID == 0 || p.SourceID == sourceID {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func (r *memPendingRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.pending[id]
	if !ok {
		return core.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memPendingRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.pending[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.pending, id)
	return nil
}

// --- articles ---

type memArticleRepo struct{ db *MemoryDB }

func (r *memArticleRepo) Create(ctx context.Context, a *core.Article) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.articles {
		if existing.URLHash == a.URLHash {
			return core.ErrConflict
		}
	}
	a.ID = r.db.id()
	now := time.Now().UTC()
	if a.CrawledAt.IsZero() {
		a.CrawledAt = now
	}
	a.UpdatedAt = now
	cp := *a
	r.db.articles[a.ID] = &cp
	return nil
}

func (r *memArticleRepo) Get(ctx context.Context, id int64) (*core.Article, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.articles[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memArticleRepo) GetByURLHash(ctx context.Context, urlHash string) (*core.Article, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.articles {
		if a.URLHash == urlHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *memArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	hash := core.HashURL(url)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.articles {
		if a.URLHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (r *memArticleRepo) List(ctx context.Context, opts ListOptions) ([]core.Article, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Article
	for _, a := range r.db.articles {
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		if opts.FetchStatus != "" && a.FetchStatus != opts.FetchStatus {
			continue
		}
		if opts.SourceID != 0 && a.SourceID != opts.SourceID {
			continue
		}
		if opts.Since != nil || opts.Until != nil {
			ts := a.CrawledAt
			if a.PublishTime != nil {
				ts = *a.PublishTime
			}
			if opts.Since != nil && ts.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && ts.After(*opts.Until) {
				continue
			}
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r *memArticleRepo) ListInWindow(ctx context.Context, cutoff time.Time, sourceIDs []int64, limit int) ([]core.Article, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	wanted := make(map[int64]bool)
	for _, id := range sourceIDs {
		wanted[id] = true
	}
	var out []core.Article
	for _, a := range r.db.articles {
		if len(wanted) > 0 && !wanted[a.SourceID] {
			continue
		}
		ts := a.CrawledAt
		if a.PublishTime != nil {
			ts = *a.PublishTime
		}
		if ts.Before(cutoff) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memArticleRepo) Update(ctx context.Context, a *core.Article) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.articles[a.ID]; !ok {
		return core.ErrNotFound
	}
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	r.db.articles[a.ID] = &cp
	return nil
}

func (r *memArticleRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.articles[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memArticleRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.articles[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.articles, id)
	return nil
}

func (r *memArticleRepo) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.db.articles[id]; ok {
			delete(r.db.articles, id)
			n++
		}
	}
	return n, nil
}

// --- tasks ---

type memTaskRepo struct{ db *MemoryDB }

func (r *memTaskRepo) Create(ctx context.Context, t *core.Task) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t.ID = r.db.id()
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	r.db.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) Get(ctx context.Context, id int64) (*core.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTaskRepo) List(ctx context.Context, opts ListOptions) ([]core.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Task
	for _, t := range r.db.tasks {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

func (r *memTaskRepo) Update(ctx context.Context, t *core.Task) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.tasks[t.ID]; !ok {
		return core.ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	r.db.tasks[t.ID] = &cp
	return nil
}

func (r *memTaskRepo) UpdateProgress(ctx context.Context, id int64, current, total int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tasks[id]
	if !ok {
		return core.ErrNotFound
	}
	t.ProgressCurrent, t.ProgressTotal = current, total
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// --- task events ---

type memTaskEventRepo struct{ db *MemoryDB }

func (r *memTaskEventRepo) Append(ctx context.Context, e *core.TaskEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e.ID = r.db.id()
	e.CreatedAt = time.Now().UTC()
	r.db.events = append(r.db.events, *e)
	return nil
}

func (r *memTaskEventRepo) ListByTask(ctx context.Context, taskID int64) ([]core.TaskEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.TaskEvent
	for _, e := range r.db.events {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- schedules ---

type memScheduleRepo struct{ db *MemoryDB }

func (r *memScheduleRepo) Create(ctx context.Context, s *core.Schedule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s.ID = r.db.id()
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	r.db.schedules[s.ID] = &cp
	return nil
}

func (r *memScheduleRepo) Get(ctx context.Context, id int64) (*core.Schedule, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.schedules[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memScheduleRepo) List(ctx context.Context, opts ListOptions) ([]core.Schedule, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Schedule
	for _, s := range r.db.schedules {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r *memScheduleRepo) ListDue(ctx context.Context, now time.Time) ([]core.Schedule, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Schedule
	for _, s := range r.db.schedules {
		if s.Status != core.ScheduleActive || s.NextRunAt == nil {
			continue
		}
		if !s.NextRunAt.After(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(*out[j].NextRunAt) })
	return out, nil
}

func (r *memScheduleRepo) Update(ctx context.Context, s *core.Schedule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.schedules[s.ID]; !ok {
		return core.ErrNotFound
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	r.db.schedules[s.ID] = &cp
	return nil
}

func (r *memScheduleRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.schedules[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.schedules, id)
	return nil
}

// --- keywords ---

type memKeywordRepo struct{ db *MemoryDB }

func (r *memKeywordRepo) Create(ctx context.Context, k *core.SearchKeyword) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.keywords {
		if strings.EqualFold(existing.Keyword, k.Keyword) {
			return core.ErrConflict
		}
	}
	k.ID = r.db.id()
	k.CreatedAt = time.Now().UTC()
	cp := *k
	r.db.keywords[k.ID] = &cp
	return nil
}

func (r *memKeywordRepo) Get(ctx context.Context, id int64) (*core.SearchKeyword, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k, ok := r.db.keywords[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *memKeywordRepo) List(ctx context.Context, opts ListOptions) ([]core.SearchKeyword, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.SearchKeyword
	for _, k := range r.db.keywords {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, opts), nil
}

func (r *memKeywordRepo) ListActive(ctx context.Context) ([]core.SearchKeyword, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.SearchKeyword
	for _, k := range r.db.keywords {
		if k.IsActive {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memKeywordRepo) Update(ctx context.Context, k *core.SearchKeyword) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.keywords[k.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *k
	r.db.keywords[k.ID] = &cp
	return nil
}

func (r *memKeywordRepo) RecordUsage(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k, ok := r.db.keywords[id]
	if !ok {
		return core.ErrNotFound
	}
	k.UsageCount++
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

func (r *memKeywordRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.keywords[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.keywords, id)
	return nil
}

// --- reports ---

type memReportRepo struct{ db *MemoryDB }

func (r *memReportRepo) Create(ctx context.Context, rep *core.Report) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rep.ID = r.db.id()
	now := time.Now().UTC()
	rep.CreatedAt, rep.UpdatedAt = now, now
	cp := *rep
	r.db.reports[rep.ID] = &cp
	return nil
}

func (r *memReportRepo) Get(ctx context.Context, id int64) (*core.Report, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rep, ok := r.db.reports[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

func (r *memReportRepo) List(ctx context.Context, opts ListOptions) ([]core.Report, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Report
	for _, rep := range r.db.reports {
		if opts.Status != "" && rep.Status != opts.Status {
			continue
		}
		out = append(out, *rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

func (r *memReportRepo) Update(ctx context.Context, rep *core.Report) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.reports[rep.ID]; !ok {
		return core.ErrNotFound
	}
	rep.UpdatedAt = time.Now().UTC()
	cp := *rep
	r.db.reports[rep.ID] = &cp
	return nil
}

func (r *memReportRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.reports[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.db.reports, id)
	n := r.db.refs[:0]
	for _, ref := range r.db.refs {
		if ref.ReportID != id {
			n = append(n, ref)
		}
	}
	r.db.refs = n
	return nil
}

func (r *memReportRepo) AddReference(ctx context.Context, ref *core.Reference) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.refs {
		if existing.ReportID == ref.ReportID && existing.CitationIndex == ref.CitationIndex {
			return core.ErrConflict
		}
	}
	ref.ID = r.db.id()
	r.db.refs = append(r.db.refs, *ref)
	return nil
}

func (r *memReportRepo) ListReferences(ctx context.Context, reportID int64) ([]core.Reference, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []core.Reference
	for _, ref := range r.db.refs {
		if ref.ReportID == reportID {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CitationIndex < out[j].CitationIndex })
	return out, nil
}

func paginate[T any](items []T, opts ListOptions) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
