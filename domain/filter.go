package domain

import (
	"strings"
	"time"
)

// Due filter values.
const (
	DueUpcoming = "upcoming"
	DueOverdue  = "overdue"
	DueNone     = "none"
)

// Filter narrows the items shown on a board.
type Filter struct {
	Search  string
	Status  string
	Client  string
	Due     string
	Project string // matches Item.Scope on the tenant-wide tasks board
}

// Active reports whether any criterion is set.
func (f Filter) Active() bool {
	return f.Search != "" || f.Status != "" || f.Client != "" || f.Due != "" || f.Project != ""
}

// Match reports whether item satisfies every criterion relative to now.
func (f Filter) Match(item Item, now time.Time) bool {
	if f.Search != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(f.Search)) {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.Client != "" && item.ClientName != f.Client {
		return false
	}
	if f.Project != "" && item.Scope != f.Project {
		return false
	}
	switch f.Due {
	case DueUpcoming:
		return item.DueDate != nil && item.DueDate.After(now)
	case DueOverdue:
		return item.DueDate != nil && item.DueDate.Before(now)
	case DueNone:
		return item.DueDate == nil
	}
	return true
}

// Apply returns the items matching f, preserving order.
func (f Filter) Apply(items []Item, now time.Time) []Item {
	if !f.Active() {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if f.Match(it, now) {
			out = append(out, it)
		}
	}
	return out
}

// Clients returns the distinct non-empty client names in first-seen order.
func Clients(items []Item) []string {
	seen := make(map[string]struct{}, len(items))
	out := []string{}
	for _, it := range items {
		if it.ClientName == "" {
			continue
		}
		if _, ok := seen[it.ClientName]; ok {
			continue
		}
		seen[it.ClientName] = struct{}{}
		out = append(out, it.ClientName)
	}
	return out
}
