package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sessionwatcher/watcher/internal/indexer"
)

// Results is a scored, sorted, paginated page of sessions.
type Results struct {
	Query   string
	Filters Filters
	Sort    string
	Total   int
	Offset  int
	Limit   int
	Results []*indexer.SessionInfo
}

// Engine runs parsed queries against an Indexer's current snapshot.
type Engine struct {
	idx *indexer.Indexer
	now func() time.Time
}

// New constructs an Engine over idx.
func New(idx *indexer.Indexer) *Engine {
	return &Engine{idx: idx, now: time.Now}
}

// ParseQuery parses a raw query string.
func (e *Engine) ParseQuery(text string) Params {
	return ParseQuery(text)
}

// Search filters, scores, sorts, and paginates sessions in the
// current index according to params.
func (e *Engine) Search(params Params) (*Results, error) {
	snap, err := e.idx.GetIndex()
	if err != nil {
		return nil, err
	}

	candidates := filterSessions(snap, params)

	now := e.now().UTC()
	type scoredSession struct {
		session *indexer.SessionInfo
		score   float64
	}
	scored := make([]scoredSession, 0, len(candidates))
	for _, s := range candidates {
		scored = append(scored, scoredSession{s, calculateScore(s, params.Query, params.Terms, now)})
	}

	sortFn := sortComparator(params.Sort)
	sort.SliceStable(scored, func(i, j int) bool {
		return sortFn(scored[i].session, scored[i].score, scored[j].session, scored[j].score)
	})

	ordered := make([]*indexer.SessionInfo, len(scored))
	for i, s := range scored {
		ordered[i] = s.session
	}

	total := len(ordered)
	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	if start < 0 {
		start = 0
	}

	return &Results{
		Query:   params.Query,
		Filters: params.Filters,
		Sort:    params.Sort,
		Total:   total,
		Offset:  params.Offset,
		Limit:   limit,
		Results: ordered[start:end],
	}, nil
}

func filterSessions(idx *indexer.SessionIndex, params Params) []*indexer.SessionInfo {
	candidates := make([]*indexer.SessionInfo, 0, len(idx.Sessions))

	var validTerms []string
	for _, t := range params.Terms {
		if len(t) >= 2 {
			validTerms = append(validTerms, t)
		}
	}

	for _, session := range idx.Sessions {
		if params.Filters.Project != "" {
			if !strings.Contains(strings.ToLower(session.ProjectDisplayName), strings.ToLower(params.Filters.Project)) {
				continue
			}
		}
		if params.Filters.Since != nil && session.ModifiedAt.Before(*params.Filters.Since) {
			continue
		}
		if params.Filters.Until != nil && session.ModifiedAt.After(*params.Filters.Until) {
			continue
		}
		if len(validTerms) > 0 && !matchesAnyTerm(session, validTerms) {
			continue
		}
		candidates = append(candidates, session)
	}

	return candidates
}

func matchesAnyTerm(session *indexer.SessionInfo, terms []string) bool {
	if session.Summary != nil {
		summaryLower := strings.ToLower(*session.Summary)
		for _, term := range terms {
			if strings.Contains(summaryLower, strings.ToLower(term)) {
				return true
			}
		}
	}

	projectLower := strings.ToLower(session.ProjectDisplayName)
	for _, term := range terms {
		if strings.Contains(projectLower, strings.ToLower(term)) {
			return true
		}
	}

	sessionIDLower := strings.ToLower(session.SessionID)
	for _, term := range terms {
		if strings.ToLower(term) == sessionIDLower {
			return true
		}
	}

	return false
}

// calculateScore weighs summary term matches (2.0 each, +1.0 for an
// exact phrase match), project name term matches (1.0 each), and a
// recency boost that decays linearly to zero over 30 days.
func calculateScore(session *indexer.SessionInfo, query string, terms []string, now time.Time) float64 {
	var score float64

	if session.Summary != nil {
		summaryLower := strings.ToLower(*session.Summary)
		for _, term := range terms {
			if strings.Contains(summaryLower, strings.ToLower(term)) {
				score += 2.0
			}
		}
		if query != "" && strings.Contains(summaryLower, strings.ToLower(query)) {
			score += 1.0
		}
	}

	projectLower := strings.ToLower(session.ProjectDisplayName)
	for _, term := range terms {
		if strings.Contains(projectLower, strings.ToLower(term)) {
			score += 1.0
		}
	}

	daysOld := math.Floor(now.Sub(session.ModifiedAt).Hours() / 24)
	recencyBoost := 1.0 - daysOld/30
	if recencyBoost < 0 {
		recencyBoost = 0
	}
	score += recencyBoost

	return score
}

// sortComparator returns a "less" function over (session, score)
// pairs implementing the named sort mode. Unrecognized modes fall
// back to "recent".
func sortComparator(mode string) func(a *indexer.SessionInfo, scoreA float64, b *indexer.SessionInfo, scoreB float64) bool {
	switch mode {
	case "oldest":
		return func(a *indexer.SessionInfo, _ float64, b *indexer.SessionInfo, _ float64) bool {
			return a.ModifiedAt.Before(b.ModifiedAt)
		}
	case "size":
		return func(a *indexer.SessionInfo, _ float64, b *indexer.SessionInfo, _ float64) bool {
			return a.SizeBytes > b.SizeBytes
		}
	case "duration":
		return func(a *indexer.SessionInfo, _ float64, b *indexer.SessionInfo, _ float64) bool {
			da, okA := durationOrNil(a)
			db, okB := durationOrNil(b)
			if okA != okB {
				return okA
			}
			return da > db
		}
	default: // "recent" and unrecognized modes
		return func(a *indexer.SessionInfo, scoreA float64, b *indexer.SessionInfo, scoreB float64) bool {
			if scoreA != scoreB {
				return scoreA > scoreB
			}
			return a.ModifiedAt.After(b.ModifiedAt)
		}
	}
}

func durationOrNil(s *indexer.SessionInfo) (int, bool) {
	d := s.DurationMs()
	if d == nil {
		return 0, false
	}
	return *d, true
}
