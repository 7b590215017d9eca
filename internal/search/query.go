// Package search parses session search queries and ranks, filters,
// sorts, and paginates results against an indexer.Indexer.
package search

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Filters narrow a search to sessions matching a project name
// substring and/or a modified_at time window.
type Filters struct {
	Project string
	Since   *time.Time
	Until   *time.Time
}

// Params is a parsed search query, ready to run against an index.
type Params struct {
	Query   string
	Terms   []string
	Filters Filters
	Sort    string
	Limit   int
	Offset  int
}

var timeRangePattern = regexp.MustCompile(`^(\d+)([dwm])$`)

// ParseTimeRange parses a relative time range like "7d", "2w", "1m"
// (month approximated as 30 days). Returns ok=false for anything that
// doesn't match.
func ParseTimeRange(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	m := timeRangePattern.FindStringSubmatch(strings.ToLower(value))
	if m == nil {
		return 0, false
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "d":
		return time.Duration(amount) * 24 * time.Hour, true
	case "w":
		return time.Duration(amount) * 7 * 24 * time.Hour, true
	case "m":
		return time.Duration(amount) * 30 * 24 * time.Hour, true
	}
	return 0, false
}

// ParseISODate parses an ISO-8601 date or datetime, assuming UTC when
// no offset is present.
func ParseISODate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var sortModes = map[string]bool{
	"recent":   true,
	"oldest":   true,
	"size":     true,
	"duration": true,
}

// ParseQuery parses a raw query string into Params. Supports bare
// terms, quoted phrases, and --project/-p, --last/-l, --since/-s,
// --until/-u, --sort options.
func ParseQuery(text string) Params {
	if strings.TrimSpace(text) == "" {
		return Params{Query: "", Terms: nil, Sort: "recent"}
	}

	tokens, err := shlex.Split(text)
	if err != nil {
		tokens = strings.Fields(text)
	}

	var terms []string
	filters := Filters{}
	sort := "recent"
	now := time.Now().UTC()

	for i := 0; i < len(tokens); {
		token := tokens[i]

		switch {
		case token == "--project" || token == "-p":
			if i+1 < len(tokens) {
				filters.Project = tokens[i+1]
				i += 2
				continue
			}
		case token == "--last" || token == "-l":
			if i+1 < len(tokens) {
				if d, ok := ParseTimeRange(tokens[i+1]); ok {
					since := now.Add(-d)
					filters.Since = &since
				}
				i += 2
				continue
			}
		case token == "--since" || token == "-s":
			if i+1 < len(tokens) {
				if t, ok := ParseISODate(tokens[i+1]); ok {
					filters.Since = &t
				}
				i += 2
				continue
			}
		case token == "--until" || token == "-u":
			if i+1 < len(tokens) {
				if t, ok := ParseISODate(tokens[i+1]); ok {
					filters.Until = &t
				}
				i += 2
				continue
			}
		case token == "--sort":
			if i+1 < len(tokens) {
				if sortModes[tokens[i+1]] {
					sort = tokens[i+1]
				}
				i += 2
				continue
			}
		case strings.HasPrefix(token, "-"):
			i++
			continue
		}

		terms = append(terms, token)
		i++
	}

	return Params{
		Query:   strings.Join(terms, " "),
		Terms:   terms,
		Filters: filters,
		Sort:    sort,
		Limit:   5,
	}
}
