// Package view derives filtered, searched and sorted read models from
// customer and task snapshots. Every function is pure and leaves its input
// untouched.
package view

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"solardesk/internal/domain"
)

// MinSearchLength is the shortest query SearchCustomers answers.
const MinSearchLength = 2

// FilterCustomers keeps, in input order, every customer matching all present
// constraints in f.
func FilterCustomers(records []domain.Customer, f domain.FilterState) []domain.Customer {
	res := make([]domain.Customer, 0, len(records))
	for _, c := range records {
		if Matches(c, f) {
			res = append(res, c)
		}
	}
	return res
}

// Matches reports whether c satisfies every present constraint in f.
func Matches(c domain.Customer, f domain.FilterState) bool {
	if company := normalizeAll(f.PanelCompany); company != "" && c.PanelCompany != company {
		return false
	}
	if f.MinKW != nil && c.KWSize < *f.MinKW {
		return false
	}
	if f.MaxKW != nil && c.KWSize > *f.MaxKW {
		return false
	}
	if stage := normalizeAll(string(f.Stage)); stage != "" && string(c.Stage) != stage {
		return false
	}
	return true
}

func normalizeAll(v string) string {
	if v == domain.FilterAll {
		return ""
	}
	return v
}

// SearchCustomers matches query against name, panel company (both
// case-insensitive), phone and the kW size. Queries shorter than
// MinSearchLength return nothing.
func SearchCustomers(records []domain.Customer, query string) []domain.Customer {
	res := []domain.Customer{}
	if utf8.RuneCountInString(query) < MinSearchLength {
		return res
	}
	lower := strings.ToLower(query)
	for _, c := range records {
		if strings.Contains(strings.ToLower(c.Name), lower) ||
			strings.Contains(c.Phone, query) ||
			strings.Contains(strings.ToLower(c.PanelCompany), lower) ||
			strings.Contains(FormatKW(c.KWSize), query) {
			res = append(res, c)
		}
	}
	return res
}

// FormatKW renders a kW size in its shortest decimal form (3 not 3.0).
func FormatKW(kw float64) string {
	return strconv.FormatFloat(kw, 'f', -1, 64)
}

// SortTasks returns a stably sorted copy of records.
func SortTasks(records []domain.Task, key domain.SortKey) []domain.Task {
	res := slices.Clone(records)
	if res == nil {
		res = []domain.Task{}
	}
	switch key {
	case domain.SortByPriority:
		slices.SortStableFunc(res, func(a, b domain.Task) int {
			return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
		})
	default:
		slices.SortStableFunc(res, func(a, b domain.Task) int {
			return a.Deadline.Compare(b.Deadline)
		})
	}
	return res
}
