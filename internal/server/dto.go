package server

import (
	"time"

	"solardesk/internal/domain"
	"solardesk/internal/engine"
	"solardesk/internal/notify"
)

// Request payloads

type CreateCustomerRequest struct {
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Email        string  `json:"email,omitempty"`
	Address      string  `json:"address,omitempty"`
	SystemType   string  `json:"system_type" enum:"DCR,Non-DCR"`
	KWSize       float64 `json:"kw_size"`
	PanelCompany string  `json:"panel_company"`
	Stage        string  `json:"stage,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

func (r CreateCustomerRequest) options() engine.CustomerCreateOptions {
	return engine.CustomerCreateOptions{
		Name:         r.Name,
		Phone:        r.Phone,
		Email:        r.Email,
		Address:      r.Address,
		SystemType:   r.SystemType,
		KWSize:       r.KWSize,
		PanelCompany: r.PanelCompany,
		Stage:        r.Stage,
		Notes:        r.Notes,
	}
}

type SetStageRequest struct {
	Stage string `json:"stage"`
}

type AddDocumentRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
	URL  string `json:"url,omitempty"`
}

type CreateTaskRequest struct {
	CustomerID  string    `json:"customer_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Deadline    time.Time `json:"deadline"`
	Priority    string    `json:"priority,omitempty" enum:"high,medium,low"`
}

type ConsentRequest struct {
	Decision string `json:"decision" enum:"granted,denied,dismissed"`
}

// Response payloads

type customerList struct {
	Items []domain.Customer `json:"items"`
}

type taskList struct {
	Items []domain.Task `json:"items"`
}

type eventList struct {
	Items []domain.Event `json:"items"`
}

type NotificationStatus struct {
	State     notify.State   `json:"state"`
	Consent   notify.Consent `json:"consent"`
	Interval  string         `json:"interval,omitempty"`
	Lookahead string         `json:"lookahead,omitempty"`
	Notified  int            `json:"notified"`
	LastCycle *time.Time     `json:"last_cycle,omitempty"`
}

func notificationStatus(st notify.Status, c notify.Consent) NotificationStatus {
	return NotificationStatus{
		State:     st.State,
		Consent:   c,
		Interval:  st.Interval,
		Lookahead: st.Lookahead,
		Notified:  st.Notified,
		LastCycle: st.LastCycle,
	}
}
