package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage is a customer's position in the installation pipeline.
type Stage string

const (
	StageFilesUploaded         Stage = "Files Uploaded"
	StageBank                  Stage = "Bank"
	StageLoanPassed            Stage = "Loan Passed"
	StageFeasibility           Stage = "Feasibility"
	StageProductArrived        Stage = "Product Arrived"
	StageInstallationCompleted Stage = "Installation Completed"
	StageKSEBRegistration      Stage = "KSEB Registration"
	StageMNREForm              Stage = "MNRE Form"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageFilesUploaded,
	StageBank,
	StageLoanPassed,
	StageFeasibility,
	StageProductArrived,
	StageInstallationCompleted,
	StageKSEBRegistration,
	StageMNREForm,
}

// Index returns the stage's position in the pipeline, or -1 if unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func ParseStage(v string) (Stage, error) {
	for _, st := range Stages {
		if strings.EqualFold(string(st), strings.TrimSpace(v)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid stage %q", v)
}

type SystemType string

const (
	SystemDCR    SystemType = "DCR"
	SystemNonDCR SystemType = "Non-DCR"
)

func ParseSystemType(v string) (SystemType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "dcr":
		return SystemDCR, nil
	case "non-dcr", "nondcr", "non_dcr":
		return SystemNonDCR, nil
	}
	return "", fmt.Errorf("invalid system type %q", v)
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities high=0, medium=1, low=2. Unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

func ParsePriority(v string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(v))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("invalid priority %q", v)
}

// SortKey selects the task ordering.
type SortKey string

const (
	SortByDeadline SortKey = "deadline"
	SortByPriority SortKey = "priority"
)

func ParseSortKey(v string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(v))) {
	case "", SortByDeadline:
		return SortByDeadline, nil
	case SortByPriority:
		return SortByPriority, nil
	}
	return "", fmt.Errorf("invalid sort key %q", v)
}

type Customer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email,omitempty"`
	Address      string          `json:"address,omitempty"`
	SystemType   SystemType      `json:"system_type" enum:"DCR,Non-DCR"`
	KWSize       float64         `json:"kw_size"`
	PanelCompany string          `json:"panel_company"`
	Stage        Stage           `json:"stage"`
	Notes        string          `json:"notes,omitempty"`
	Tasks        []Task          `json:"tasks"`
	Documents    []Document      `json:"documents"`
	Timeline     []TimelineEvent `json:"timeline"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Deadline     time.Time `json:"deadline" format:"date-time"`
	Priority     Priority  `json:"priority" enum:"high,medium,low"`
	CustomerName string    `json:"customer_name"`
	IsOverdue    bool      `json:"is_overdue"`
	DaysOverdue  *int      `json:"days_overdue,omitempty"`
	Stage        Stage     `json:"stage,omitempty"`
	CreatedAt    string    `json:"created_at" format:"date-time"`
}

type Document struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at" format:"date-time"`
	URL        string `json:"url"`
}

type TimelineEvent struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// FilterState narrows the customer list. Nil/empty fields impose no constraint.
type FilterState struct {
	PanelCompany string   `json:"panel_company,omitempty"`
	MinKW        *float64 `json:"min_kw,omitempty"`
	MaxKW        *float64 `json:"max_kw,omitempty"`
	Stage        Stage    `json:"stage,omitempty"`
}

// FilterAll is the "no constraint" sentinel for company and stage filters.
const FilterAll = "all"

type DashboardStats struct {
	TotalCustomers         int     `json:"total_customers"`
	CompletedInstallations int     `json:"completed_installations"`
	PendingKSEB            int     `json:"pending_kseb"`
	PendingMNRE            int     `json:"pending_mnre"`
	TotalKW                float64 `json:"total_kw"`
}

type Report struct {
	DashboardStats
	AvgSystemSize float64 `json:"avg_system_size"`
}

type FilterBadge struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type Dashboard struct {
	Stats             DashboardStats `json:"stats"`
	TodayTasks        []Task         `json:"today_tasks"`
	OverdueTasks      []Task         `json:"overdue_tasks"`
	HighPriorityTasks []Task         `json:"high_priority_tasks"`
	ActiveFilters     []FilterBadge  `json:"active_filters"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
