package view

import (
	"fmt"
	"time"

	"solardesk/internal/domain"
)

// Default kW slider bounds used when a badge shows a half-open range.
const (
	defaultMinKW = 0
	defaultMaxKW = 20
)

// ClassifyTasks returns copies of tasks with IsOverdue and DaysOverdue
// derived from now.
func ClassifyTasks(tasks []domain.Task, now time.Time) []domain.Task {
	res := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		t.IsOverdue = t.Deadline.Before(now)
		t.DaysOverdue = nil
		if t.IsOverdue {
			days := int(now.Sub(t.Deadline) / (24 * time.Hour))
			t.DaysOverdue = &days
		}
		res = append(res, t)
	}
	return res
}

// Stats summarises a customer set.
func Stats(customers []domain.Customer) domain.DashboardStats {
	var s domain.DashboardStats
	installed := domain.StageInstallationCompleted.Index()
	for _, c := range customers {
		s.TotalCustomers++
		s.TotalKW += c.KWSize
		if c.Stage.Index() >= installed {
			s.CompletedInstallations++
		}
		switch c.Stage {
		case domain.StageInstallationCompleted, domain.StageKSEBRegistration:
			s.PendingKSEB++
		case domain.StageMNREForm:
			s.PendingMNRE++
		}
	}
	return s
}

// Report extends Stats with the average system size.
func Report(customers []domain.Customer) domain.Report {
	r := domain.Report{DashboardStats: Stats(customers)}
	if r.TotalCustomers > 0 {
		r.AvgSystemSize = r.TotalKW / float64(r.TotalCustomers)
	}
	return r
}

// Dashboard builds the dashboard for the customers matching filters. Only
// tasks owned by those customers are considered.
func Dashboard(customers []domain.Customer, tasks []domain.Task, filters domain.FilterState, now time.Time) domain.Dashboard {
	filtered := FilterCustomers(customers, filters)
	owners := make(map[string]struct{}, len(filtered))
	for _, c := range filtered {
		owners[c.ID] = struct{}{}
	}
	d := domain.Dashboard{
		Stats:             Stats(filtered),
		TodayTasks:        []domain.Task{},
		OverdueTasks:      []domain.Task{},
		HighPriorityTasks: []domain.Task{},
		ActiveFilters:     ActiveFilters(filters),
	}
	y, m, day := now.Date()
	for _, t := range SortTasks(ClassifyTasks(tasks, now), domain.SortByDeadline) {
		if _, ok := owners[t.CustomerID]; !ok {
			continue
		}
		if t.IsOverdue {
			d.OverdueTasks = append(d.OverdueTasks, t)
			continue
		}
		if ty, tm, td := t.Deadline.In(now.Location()).Date(); ty == y && tm == m && td == day {
			d.TodayTasks = append(d.TodayTasks, t)
		}
		if t.Priority == domain.PriorityHigh {
			d.HighPriorityTasks = append(d.HighPriorityTasks, t)
		}
	}
	return d
}

// ActiveFilters lists one badge per present constraint. The kW bounds share
// a single "min_kw" badge.
func ActiveFilters(f domain.FilterState) []domain.FilterBadge {
	badges := []domain.FilterBadge{}
	if c := normalizeAll(f.PanelCompany); c != "" {
		badges = append(badges, domain.FilterBadge{Key: "panel_company", Label: c})
	}
	if f.MinKW != nil || f.MaxKW != nil {
		lo, hi := float64(defaultMinKW), float64(defaultMaxKW)
		if f.MinKW != nil {
			lo = *f.MinKW
		}
		if f.MaxKW != nil {
			hi = *f.MaxKW
		}
		badges = append(badges, domain.FilterBadge{Key: "min_kw", Label: fmt.Sprintf("%s-%s kW", FormatKW(lo), FormatKW(hi))})
	}
	if s := normalizeAll(string(f.Stage)); s != "" {
		badges = append(badges, domain.FilterBadge{Key: "stage", Label: s})
	}
	return badges
}

// RemoveFilter clears the constraint named by key. Removing either kW bound
// clears both.
func RemoveFilter(f domain.FilterState, key string) domain.FilterState {
	switch key {
	case "panel_company":
		f.PanelCompany = ""
	case "min_kw", "max_kw":
		f.MinKW, f.MaxKW = nil, nil
	case "stage":
		f.Stage = ""
	}
	return f
}
