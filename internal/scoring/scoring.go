// Package scoring computes multi-factor influence scores for articles.
//
// The overall score is a weighted blend of keyword match (0.65), source
// weight (0.15), a popularity proxy (0.15) and recency (0.05), each
// sub-score in 0..100. When no keywords are supplied the keyword
// component is dropped and the remaining weights are renormalized, so an
// empty keyword list and a nil one produce identical scores.
package scoring

import (
	"regexp"
	"strings"
	"time"

	"newsradar/internal/core"
)

// Component weights.
const (
	weightKeyword    = 0.65
	weightSource     = 0.15
	weightPopularity = 0.15
	weightRecency    = 0.05
)

// sourceWeights maps source categories onto a trust weight.
var sourceWeights = map[string]float64{
	"official":   1.0,
	"mainstream": 0.8,
	"commercial": 0.6,
	"social":     0.4,
	"unknown":    0.2,
}

// Input carries everything the scorer needs for one article.
type Input struct {
	Article        *core.Article
	SourceCategory string
	Keywords       []string
	Now            time.Time
}

// Score computes the influence score in 0..100.
func Score(in Input) float64 {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	source := sourceScore(in.SourceCategory)
	popularity := popularityScore(in.Article)
	recency := recencyScore(in.Article, now)

	if len(in.Keywords) == 0 {
		// No keyword signal; renormalize the remaining weights.
		rest := weightSource + weightPopularity + weightRecency
		return clamp((weightSource*source + weightPopularity*popularity + weightRecency*recency) / rest)
	}

	keyword := keywordScore(in.Article, in.Keywords)
	return clamp(weightKeyword*keyword + weightSource*source + weightPopularity*popularity + weightRecency*recency)
}

// keywordScore rates how strongly the article matches the keyword list.
// Per keyword: title exact 100, title word-boundary 85, title substring
// 60; content occurrences add up to 40. The overall value is the mean of
// matched-keyword scores plus up to 25 bonus for match ratio.
func keywordScore(a *core.Article, keywords []string) float64 {
	title := strings.ToLower(a.Title)
	content := strings.ToLower(a.Content)

	var matched []float64
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}

		var score float64
		switch {
		case title == kw:
			score = 100
		case matchesWordBoundary(title, kw):
			score = 85
		case strings.Contains(title, kw):
			score = 60
		}

		if count := strings.Count(content, kw); count > 0 {
			contentScore := float64(count) * 8
			if contentScore > 40 {
				contentScore = 40
			}
			if score == 0 {
				score = contentScore
			} else {
				score += contentScore
				if score > 100 {
					score = 100
				}
			}
		}

		if score > 0 {
			matched = append(matched, score)
		}
	}

	if len(matched) == 0 {
		return 2 // near-zero: nothing matched
	}

	var sum float64
	for _, s := range matched {
		sum += s
	}
	mean := sum / float64(len(matched))
	ratio := float64(len(matched)) / float64(len(keywords))
	return clamp(mean + 25*ratio)
}

func matchesWordBoundary(text, keyword string) bool {
	pattern := `\b` + regexp.QuoteMeta(keyword) + `\b`
	matched, err := regexp.MatchString(pattern, text)
	return err == nil && matched
}

func sourceScore(category string) float64 {
	w, ok := sourceWeights[strings.ToLower(category)]
	if !ok {
		w = sourceWeights["unknown"]
	}
	return w * 100
}

// popularityScore is a structural proxy: longer content, a reasonable
// title, a named author and downstream processing all raise it.
func popularityScore(a *core.Article) float64 {
	score := 50.0

	contentLen := len([]rune(a.Content))
	switch {
	case contentLen >= 2000:
		score += 20
	case contentLen >= 1000:
		score += 15
	case contentLen >= 500:
		score += 10
	}

	titleLen := len([]rune(a.Title))
	if titleLen >= 20 && titleLen <= 100 {
		score += 10
		if titleLen >= 30 && titleLen <= 80 {
			score += 5
		}
	}

	if strings.TrimSpace(a.Author) != "" {
		score += 10
	}

	switch a.Status {
	case core.ArticleStatusSynced:
		score += 5
	case core.ArticleStatusProcessed:
		score += 3
	}

	return clamp(score)
}

// recencyScore buckets article age: <24h 100, <72h 80, <168h 60,
// <720h 40, else 20. Both sides are normalized to UTC before
// subtraction; articles without any timestamp score the floor.
func recencyScore(a *core.Article, now time.Time) float64 {
	ts := a.PublishTime
	if ts == nil {
		if a.CrawledAt.IsZero() {
			return 20
		}
		t := a.CrawledAt
		ts = &t
	}

	age := now.UTC().Sub(ts.UTC())
	switch {
	case age < 24*time.Hour:
		return 100
	case age < 72*time.Hour:
		return 80
	case age < 168*time.Hour:
		return 60
	case age < 720*time.Hour:
		return 40
	default:
		return 20
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
