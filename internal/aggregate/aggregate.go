// Package aggregate condenses a time window of articles into the core
// set of scored, deduplicated stories.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"newsradar/internal/core"
	"newsradar/internal/logger"
	"newsradar/internal/persistence"
	"newsradar/internal/scoring"
	"newsradar/internal/simhash"
)

const (
	// shardThreshold is the window size above which the pipeline shards.
	shardThreshold = 5000

	// topPerStage caps the standard pipeline output.
	topPerStage = 100

	// topPerShard is how many results each shard contributes to the merge.
	topPerShard = 10

	// mergedLimit caps the final result of the sharded path.
	mergedLimit = 20

	selectorLimit = 20
)

// ScoredArticle pairs an article with its influence score.
type ScoredArticle struct {
	Article core.Article
	Score   float64
}

// Selector optionally narrows the scored shortlist, typically via an
// LLM. It returns the chosen article IDs in preference order.
type Selector interface {
	SelectTop(ctx context.Context, articles []ScoredArticle, limit int) ([]int64, error)
}

// Params controls one aggregation run.
type Params struct {
	Cutoff           time.Time
	SourceIDs        []int64
	Keywords         []string
	SourceCategories map[int64]string // source id -> category for scoring
	Selector         Selector
	Threshold        float64 // SimHash similarity threshold; 0 means default
	Now              time.Time
}

// Aggregator runs the score/cluster/select pipeline over stored articles.
type Aggregator struct {
	db persistence.Database
}

func New(db persistence.Database) *Aggregator {
	return &Aggregator{db: db}
}

// CoreEvents fetches the window and reduces it to the top stories:
// score, cluster near-duplicates, keep the longest-content member of
// each cluster, sort by score. Windows above the shard threshold are
// processed per shard and merged with a cross-shard dedup pass.
func (a *Aggregator) CoreEvents(ctx context.Context, p Params) ([]ScoredArticle, error) {
	if p.Threshold <= 0 {
		p.Threshold = simhash.DefaultThreshold
	}
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}

	articles, err := a.db.Articles().ListInWindow(ctx, p.Cutoff, p.SourceIDs, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article window: %w", err)
	}
	if len(articles) == 0 {
		return nil, nil
	}

	if len(articles) > shardThreshold {
		return a.sharded(ctx, articles, p)
	}

	result := a.pipeline(articles, p, topPerStage)
	return a.applySelector(ctx, result, p), nil
}

// sharded splits the window by source (or by day when too few sources),
// runs the standard pipeline per shard, then merges each shard's best
// and re-deduplicates across shards.
func (a *Aggregator) sharded(ctx context.Context, articles []core.Article, p Params) ([]ScoredArticle, error) {
	shards := shardBySource(articles)
	if len(shards) < 3 {
		shards = shardByDay(articles)
	}
	logger.Info("aggregation window sharded", "articles", len(articles), "shards", len(shards))

	var merged []ScoredArticle
	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ranked := a.pipeline(shard, p, topPerStage)
		if len(ranked) > topPerShard {
			ranked = ranked[:topPerShard]
		}
		merged = append(merged, ranked...)
	}

	// Cross-shard dedup: the same story may top several shards.
	merged = dedup(merged, p.Threshold)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > mergedLimit {
		merged = merged[:mergedLimit]
	}
	return a.applySelector(ctx, merged, p), nil
}

// pipeline is the standard per-batch reduction: score, cluster, pick
// representatives, sort, cap.
func (a *Aggregator) pipeline(articles []core.Article, p Params, limit int) []ScoredArticle {
	scored := make([]ScoredArticle, 0, len(articles))
	for i := range articles {
		art := articles[i]
		scored = append(scored, ScoredArticle{
			Article: art,
			Score: scoring.Score(scoring.Input{
				Article:        &art,
				SourceCategory: p.SourceCategories[art.SourceID],
				Keywords:       p.Keywords,
				Now:            p.Now,
			}),
		})
	}

	scored = dedup(scored, p.Threshold)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// dedup clusters near-duplicates and keeps one member per cluster: the
// one with the longest content, score as tiebreaker.
func dedup(scored []ScoredArticle, threshold float64) []ScoredArticle {
	if len(scored) < 2 {
		return scored
	}

	byID := make(map[int64]*ScoredArticle, len(scored))
	entries := make([]simhash.Entry, 0, len(scored))
	for i := range scored {
		sa := &scored[i]
		byID[sa.Article.ID] = sa
		entries = append(entries, simhash.Entry{ID: sa.Article.ID, Hash: simhash.Hash(sa.Article.Content)})
	}

	clusters := simhash.Cluster(entries, threshold)

	var kept []ScoredArticle
	for rep, dups := range clusters {
		best := byID[rep]
		for _, id := range dups {
			candidate := byID[id]
			if longerContent(candidate, best) {
				best = candidate
			}
		}
		kept = append(kept, *best)
	}
	return kept
}

func longerContent(a, b *ScoredArticle) bool {
	la, lb := len(a.Article.Content), len(b.Article.Content)
	if la != lb {
		return la > lb
	}
	return a.Score > b.Score
}

// applySelector lets the optional AI selector narrow the shortlist;
// selector failure falls back to score order.
func (a *Aggregator) applySelector(ctx context.Context, ranked []ScoredArticle, p Params) []ScoredArticle {
	if p.Selector == nil || len(ranked) <= selectorLimit {
		return ranked
	}

	ids, err := p.Selector.SelectTop(ctx, ranked, selectorLimit)
	if err != nil || len(ids) == 0 {
		if err != nil {
			logger.Warn("ai selector failed, falling back to score order", "error", err.Error())
		}
		return ranked[:selectorLimit]
	}

	byID := make(map[int64]ScoredArticle, len(ranked))
	for _, sa := range ranked {
		byID[sa.Article.ID] = sa
	}
	var selected []ScoredArticle
	for _, id := range ids {
		if sa, ok := byID[id]; ok {
			selected = append(selected, sa)
			if len(selected) == selectorLimit {
				break
			}
		}
	}
	if len(selected) == 0 {
		return ranked[:selectorLimit]
	}
	return selected
}

func shardBySource(articles []core.Article) [][]core.Article {
	groups := make(map[int64][]core.Article)
	for _, a := range articles {
		groups[a.SourceID] = append(groups[a.SourceID], a)
	}
	return collectShards(groups)
}

func shardByDay(articles []core.Article) [][]core.Article {
	groups := make(map[int64][]core.Article)
	for _, a := range articles {
		ts := a.CrawledAt
		if a.PublishTime != nil {
			ts = *a.PublishTime
		}
		day := ts.UTC().Truncate(24 * time.Hour).Unix()
		groups[day] = append(groups[day], a)
	}
	return collectShards(groups)
}

func collectShards(groups map[int64][]core.Article) [][]core.Article {
	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	shards := make([][]core.Article, 0, len(groups))
	for _, k := range keys {
		shards = append(shards, groups[k])
	}
	return shards
}
