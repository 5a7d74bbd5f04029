package models

import (
	"sort"
	"strings"
)

const DefaultBadgeColor = "#6b7280"

// Badge is a role or achievement marker rendered next to an author's name.
type Badge struct {
	Code     string `json:"code"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	Priority int    `json:"priority"`
}

// NormalizeBadges drops badges without a code, fills defaults, removes duplicate
// codes (first wins) and orders by priority desc, then code.
func NormalizeBadges(in []Badge) []Badge {
	out := make([]Badge, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, b := range in {
		b.Code = strings.ToLower(strings.TrimSpace(b.Code))
		if b.Code == "" || seen[b.Code] {
			continue
		}
		seen[b.Code] = true
		b.Label = strings.TrimSpace(b.Label)
		if b.Label == "" {
			b.Label = b.Code
		}
		if b.Color == "" {
			b.Color = DefaultBadgeColor
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Code < out[j].Code
	})
	return out
}
