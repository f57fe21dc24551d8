package report

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"newsradar/internal/core"
	"newsradar/internal/simhash"
)

const (
	topKeywords      = 5
	tfidfWeight      = 0.6
	textrankWeight   = 0.4
	textrankWindow   = 4
	textrankDamping  = 0.85
	textrankIters    = 20
	minEventsToKeep  = 15
	summaryMaxRunes  = 280
	titleMaxKeywords = 3
)

// Cluster is one near-duplicate group with its chosen representative.
type Cluster struct {
	Representative *core.Article
	Members        []*core.Article // includes the representative
}

// Event is a cluster-derived topic.
type Event struct {
	Title      string         `json:"title"`
	Summary    string         `json:"summary"`
	Keywords   []string       `json:"keywords"`
	Importance float64        `json:"importance"`
	ArticleIDs []int64        `json:"article_ids"`
	Articles   []*core.Article `json:"-"`
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true, "has": true,
	"have": true, "had": true, "will": true, "would": true, "can": true,
	"could": true, "not": true, "no": true, "their": true, "his": true,
	"her": true, "they": true, "we": true, "he": true, "she": true, "said": true,
	"also": true, "more": true, "after": true, "into": true, "than": true,
	"about": true, "over": true, "new": true,
}

// ExtractEvents turns clusters into scored events. Each cluster gets
// TF-IDF and TextRank keywords merged 0.6/0.4; importance blends the
// TF-IDF signal with user-keyword relevance when keywords are given.
// At most max(15, maxEvents) events are kept, by importance.
func ExtractEvents(clusters []Cluster, userKeywords []string, maxEvents int) []Event {
	if len(clusters) == 0 {
		return nil
	}

	docs := make([][]string, len(clusters))
	for i, cl := range clusters {
		docs[i] = contentTokens(cl)
	}
	docFreq := documentFrequencies(docs)

	events := make([]Event, 0, len(clusters))
	var maxRaw float64
	for i, cl := range clusters {
		tfidf := tfidfScores(docs[i], docFreq, len(docs))
		textrank := textrankScores(docs[i])
		merged := mergeScores(tfidf, textrank)
		keywords := topN(merged, topKeywords)

		raw := rawImportance(tfidf, keywords, len(cl.Members))
		if raw > maxRaw {
			maxRaw = raw
		}

		ids := make([]int64, 0, len(cl.Members))
		for _, m := range cl.Members {
			ids = append(ids, m.ID)
		}
		events = append(events, Event{
			Title:      eventTitle(keywords, cl.Representative),
			Summary:    summarize(cl.Representative),
			Keywords:   keywords,
			Importance: raw,
			ArticleIDs: ids,
			Articles:   cl.Members,
		})
	}

	// Normalize the TF-IDF leg to 0..100, then blend in keyword
	// relevance when the caller supplied keywords.
	for i := range events {
		tfidfImportance := 0.0
		if maxRaw > 0 {
			tfidfImportance = events[i].Importance / maxRaw * 100
		}
		if len(userKeywords) > 0 {
			relevance := keywordRelevance(docs[i], userKeywords)
			events[i].Importance = tfidfWeight*tfidfImportance + textrankWeight*relevance
		} else {
			events[i].Importance = tfidfImportance
		}
	}

	sort.SliceStable(events, func(a, b int) bool { return events[a].Importance > events[b].Importance })

	keep := minEventsToKeep
	if maxEvents > keep {
		keep = maxEvents
	}
	if len(events) > keep {
		events = events[:keep]
	}
	return events
}

// contentTokens tokenizes a cluster's combined title+content, dropping
// stopwords, single characters and pure numbers.
func contentTokens(cl Cluster) []string {
	var b strings.Builder
	for _, m := range cl.Members {
		b.WriteString(m.Title)
		b.WriteString(" ")
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	raw := simhash.Tokenize(b.String())
	tokens := raw[:0]
	for _, t := range raw {
		if stopwords[t] || len([]rune(t)) < 2 || isNumeric(t) {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func documentFrequencies(docs [][]string) map[string]int {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, t := range doc {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	return df
}

func tfidfScores(doc []string, df map[string]int, totalDocs int) map[string]float64 {
	if len(doc) == 0 {
		return nil
	}
	tf := make(map[string]float64, len(doc))
	for _, t := range doc {
		tf[t]++
	}
	scores := make(map[string]float64, len(tf))
	for t, f := range tf {
		idf := math.Log(float64(totalDocs)/(1.0+float64(df[t]))) + 1.0
		scores[t] = f / float64(len(doc)) * idf
	}
	return scores
}

// textrankScores runs PageRank over a token co-occurrence graph with a
// sliding window.
func textrankScores(doc []string) map[string]float64 {
	if len(doc) == 0 {
		return nil
	}
	neighbors := make(map[string]map[string]bool)
	link := func(a, b string) {
		if a == b {
			return
		}
		if neighbors[a] == nil {
			neighbors[a] = make(map[string]bool)
		}
		neighbors[a][b] = true
	}
	for i, t := range doc {
		for j := i + 1; j < i+textrankWindow && j < len(doc); j++ {
			link(t, doc[j])
			link(doc[j], t)
		}
	}

	n := len(neighbors)
	if n == 0 {
		return nil
	}
	rank := make(map[string]float64, n)
	for t := range neighbors {
		rank[t] = 1.0 / float64(n)
	}
	for iter := 0; iter < textrankIters; iter++ {
		next := make(map[string]float64, n)
		for t := range neighbors {
			sum := 0.0
			for other := range neighbors[t] {
				if deg := len(neighbors[other]); deg > 0 {
					sum += rank[other] / float64(deg)
				}
			}
			next[t] = (1-textrankDamping)/float64(n) + textrankDamping*sum
		}
		rank = next
	}
	return rank
}

// mergeScores blends normalized TF-IDF and TextRank scores 0.6/0.4.
func mergeScores(tfidf, textrank map[string]float64) map[string]float64 {
	normalize := func(scores map[string]float64) map[string]float64 {
		var max float64
		for _, v := range scores {
			if v > max {
				max = v
			}
		}
		if max == 0 {
			return scores
		}
		out := make(map[string]float64, len(scores))
		for t, v := range scores {
			out[t] = v / max
		}
		return out
	}
	nt, nr := normalize(tfidf), normalize(textrank)

	merged := make(map[string]float64, len(nt))
	for t, v := range nt {
		merged[t] = tfidfWeight * v
	}
	for t, v := range nr {
		merged[t] += textrankWeight * v
	}
	return merged
}

func topN(scores map[string]float64, n int) []string {
	type kv struct {
		token string
		score float64
	}
	ranked := make([]kv, 0, len(scores))
	for t, s := range scores {
		ranked = append(ranked, kv{t, s})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].token < ranked[b].token
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, 0, len(ranked))
	for _, e := range ranked {
		out = append(out, e.token)
	}
	return out
}

// rawImportance favors clusters with strong top keywords and more
// corroborating members.
func rawImportance(tfidf map[string]float64, keywords []string, members int) float64 {
	sum := 0.0
	for _, kw := range keywords {
		sum += tfidf[kw]
	}
	return sum * (1.0 + math.Log(1.0+float64(members)))
}

// keywordRelevance is the 0..100 share of user keywords present in the
// cluster's tokens.
func keywordRelevance(doc []string, userKeywords []string) float64 {
	if len(userKeywords) == 0 {
		return 0
	}
	present := make(map[string]bool, len(doc))
	for _, t := range doc {
		present[t] = true
	}
	matched := 0
	for _, kw := range userKeywords {
		for _, t := range simhash.Tokenize(kw) {
			if present[t] {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(userKeywords)) * 100
}

func eventTitle(keywords []string, rep *core.Article) string {
	n := titleMaxKeywords
	if len(keywords) < n {
		n = len(keywords)
	}
	if n == 0 {
		return rep.Title
	}
	return strings.Join(keywords[:n], " / ")
}

func summarize(rep *core.Article) string {
	text := strings.Join(strings.Fields(rep.Content), " ")
	runes := []rune(text)
	if len(runes) > summaryMaxRunes {
		return string(runes[:summaryMaxRunes]) + "…"
	}
	if text == "" {
		return rep.Title
	}
	return text
}
