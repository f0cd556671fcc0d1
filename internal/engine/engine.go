package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"solardesk/internal/config"
	"solardesk/internal/domain"
	"solardesk/internal/events"
	"solardesk/internal/repo"
	"solardesk/internal/view"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError reports rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func actorOr(actorID string) string {
	if actorID == "" {
		return "local-user"
	}
	return actorID
}

// CustomerCreateOptions are parameters for creating a customer.
type CustomerCreateOptions struct {
	ID           string
	Name         string
	Phone        string
	Email        string
	Address      string
	SystemType   string
	KWSize       float64
	PanelCompany string
	Stage        string
	Notes        string
	ActorID      string
}

func (e Engine) CreateCustomer(ctx context.Context, opts CustomerCreateOptions) (domain.Customer, error) {
	c := domain.Customer{
		ID:           opts.ID,
		Name:         strings.TrimSpace(opts.Name),
		Phone:        strings.TrimSpace(opts.Phone),
		Email:        strings.TrimSpace(opts.Email),
		Address:      strings.TrimSpace(opts.Address),
		KWSize:       opts.KWSize,
		PanelCompany: strings.TrimSpace(opts.PanelCompany),
		Notes:        opts.Notes,
	}
	if c.Name == "" {
		return domain.Customer{}, invalid("name", "is required")
	}
	if c.Phone == "" {
		return domain.Customer{}, invalid("phone", "is required")
	}
	if c.KWSize <= 0 {
		return domain.Customer{}, invalid("kw_size", "must be greater than 0")
	}
	if c.PanelCompany == "" {
		return domain.Customer{}, invalid("panel_company", "is required")
	}
	if !e.Config.HasCompany(c.PanelCompany) {
		return domain.Customer{}, invalid("panel_company", "%q is not in the catalog", c.PanelCompany)
	}
	st, err := domain.ParseSystemType(opts.SystemType)
	if err != nil {
		return domain.Customer{}, invalid("system_type", "%v", err)
	}
	c.SystemType = st
	c.Stage = domain.StageFilesUploaded
	if opts.Stage != "" {
		if c.Stage, err = domain.ParseStage(opts.Stage); err != nil {
			return domain.Customer{}, invalid("stage", "%v", err)
		}
	}
	now := e.now().UTC()
	c.CreatedAt = now.Format(time.RFC3339)
	if c.ID == "" {
		c.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.Name+"|"+c.Phone+"|"+now.Format(time.RFC3339Nano))).String()
	}
	created := domain.TimelineEvent{Action: "Customer created", Timestamp: c.CreatedAt}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCustomer(ctx, tx, c); err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}
		if err := e.Repo.InsertTimelineEvent(ctx, tx, c.ID, created); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "customer.created", "customer", c.ID, actorOr(opts.ActorID), events.EventPayload{
			"name": c.Name, "stage": string(c.Stage), "kw_size": c.KWSize,
		})
	})
	if err != nil {
		return domain.Customer{}, err
	}
	c.Tasks = []domain.Task{}
	c.Documents = []domain.Document{}
	c.Timeline = []domain.TimelineEvent{created}
	return c, nil
}

// SetStage moves a customer to another pipeline stage and records it on the
// customer's timeline.
func (e Engine) SetStage(ctx context.Context, customerID, stage, actorID string) (domain.Customer, error) {
	next, err := domain.ParseStage(stage)
	if err != nil {
		return domain.Customer{}, invalid("stage", "%v", err)
	}
	c, err := e.Repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if c.Stage == next {
		return e.Customer(ctx, customerID)
	}
	ts := e.now().UTC().Format(time.RFC3339)
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateCustomerStage(ctx, tx, customerID, next); err != nil {
			return err
		}
		if err := e.Repo.InsertTimelineEvent(ctx, tx, customerID, domain.TimelineEvent{Action: "Moved to " + string(next), Timestamp: ts}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "customer.stage.changed", "customer", customerID, actorOr(actorID), events.EventPayload{
			"from": string(c.Stage), "to": string(next),
		})
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return e.Customer(ctx, customerID)
}

// DocumentOptions describe an uploaded document. Only metadata is stored.
type DocumentOptions struct {
	ID         string
	CustomerID string
	Name       string
	Type       string
	Size       int64
	URL        string
	ActorID    string
}

func (e Engine) AddDocument(ctx context.Context, opts DocumentOptions) (domain.Document, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Document{}, invalid("name", "is required")
	}
	if opts.Size < 0 {
		return domain.Document{}, invalid("size", "must not be negative")
	}
	if _, err := e.Repo.GetCustomer(ctx, opts.CustomerID); err != nil {
		return domain.Document{}, err
	}
	now := e.now().UTC()
	d := domain.Document{
		ID:         opts.ID,
		CustomerID: opts.CustomerID,
		Name:       name,
		Type:       opts.Type,
		Size:       opts.Size,
		URL:        opts.URL,
		UploadedAt: now.Format(time.RFC3339),
	}
	if d.Type == "" {
		d.Type = "application/octet-stream"
	}
	if d.ID == "" {
		d.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.CustomerID+"|"+d.Name+"|"+now.Format(time.RFC3339Nano))).String()
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := e.Repo.InsertTimelineEvent(ctx, tx, d.CustomerID, domain.TimelineEvent{Action: "Document uploaded: " + d.Name, Timestamp: d.UploadedAt}); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "document.added", "document", d.ID, actorOr(opts.ActorID), events.EventPayload{
			"customer_id": d.CustomerID, "name": d.Name, "size": d.Size,
		})
	})
	if err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	CustomerID  string
	Title       string
	Description string
	Deadline    time.Time
	Priority    string
	Stage       string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	t := domain.Task{
		ID:          opts.ID,
		CustomerID:  opts.CustomerID,
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		Deadline:    opts.Deadline.UTC(),
		Priority:    domain.PriorityMedium,
	}
	if t.Title == "" {
		return domain.Task{}, invalid("title", "is required")
	}
	if t.CustomerID == "" {
		return domain.Task{}, invalid("customer_id", "is required")
	}
	if opts.Deadline.IsZero() {
		return domain.Task{}, invalid("deadline", "is required")
	}
	var err error
	if opts.Priority != "" {
		if t.Priority, err = domain.ParsePriority(opts.Priority); err != nil {
			return domain.Task{}, invalid("priority", "%v", err)
		}
	}
	if opts.Stage != "" {
		if t.Stage, err = domain.ParseStage(opts.Stage); err != nil {
			return domain.Task{}, invalid("stage", "%v", err)
		}
	}
	c, err := e.Repo.GetCustomer(ctx, t.CustomerID)
	if err != nil {
		return domain.Task{}, err
	}
	t.CustomerName = c.Name
	now := e.now().UTC()
	t.CreatedAt = now.Format(time.RFC3339)
	if t.ID == "" {
		t.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(t.CustomerID+"|"+t.Title+"|"+now.Format(time.RFC3339Nano))).String()
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return e.Events.Append(ctx, tx, "task.created", "task", t.ID, actorOr(opts.ActorID), events.EventPayload{
			"title": t.Title, "customer_id": t.CustomerID, "deadline": t.Deadline.Format(time.RFC3339), "priority": string(t.Priority),
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return view.ClassifyTasks([]domain.Task{t}, now)[0], nil
}

// Customer returns one customer with deadline-sorted, classified tasks.
func (e Engine) Customer(ctx context.Context, id string) (domain.Customer, error) {
	c, err := e.Repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	c.Tasks = view.SortTasks(view.ClassifyTasks(c.Tasks, e.now()), domain.SortByDeadline)
	return c, nil
}

// Task returns one task classified against the engine clock.
func (e Engine) Task(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	return view.ClassifyTasks([]domain.Task{t}, e.now())[0], nil
}

// Customers lists customers matching filters and, when query is set, the
// search query.
func (e Engine) Customers(ctx context.Context, filters domain.FilterState, query string) ([]domain.Customer, error) {
	all, err := e.Repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	res := view.FilterCustomers(all, filters)
	if strings.TrimSpace(query) != "" {
		res = view.SearchCustomers(res, query)
	}
	return res, nil
}

// Search runs the global customer search.
func (e Engine) Search(ctx context.Context, query string) ([]domain.Customer, error) {
	all, err := e.Repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	return view.SearchCustomers(all, query), nil
}

// Tasks returns every task classified against the engine clock and ordered
// by key.
func (e Engine) Tasks(ctx context.Context, key domain.SortKey) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return nil, err
	}
	return view.SortTasks(view.ClassifyTasks(tasks, e.now()), key), nil
}

// ListTasks lets the engine act as a deadline scheduler task source.
func (e Engine) ListTasks(ctx context.Context, key domain.SortKey) ([]domain.Task, error) {
	return e.Tasks(ctx, key)
}

func (e Engine) Dashboard(ctx context.Context, filters domain.FilterState) (domain.Dashboard, error) {
	customers, err := e.Repo.ListCustomers(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return domain.Dashboard{}, err
	}
	return view.Dashboard(customers, tasks, filters, e.now()), nil
}

func (e Engine) Reports(ctx context.Context) (domain.Report, error) {
	customers, err := e.Repo.ListCustomers(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	return view.Report(customers), nil
}

// Catalog lists the values the UI offers for filters and forms.
type Catalog struct {
	Stages         []domain.Stage `json:"stages"`
	PanelCompanies []string       `json:"panel_companies"`
	DocumentTypes  []string       `json:"document_types"`
	SystemTypes    []string       `json:"system_types"`
}

func (e Engine) Catalog() Catalog {
	return Catalog{
		Stages:         domain.Stages,
		PanelCompanies: append([]string{}, e.Config.Catalog.PanelCompanies...),
		DocumentTypes:  append([]string{}, e.Config.Catalog.DocumentTypes...),
		SystemTypes:    []string{string(domain.SystemDCR), string(domain.SystemNonDCR)},
	}
}

// Seed loads the demo customers and tasks into an empty workspace. It
// reports false when customers already exist.
func (e Engine) Seed(ctx context.Context, actorID string) (bool, error) {
	n, err := e.Repo.CountCustomers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	now := e.now().UTC()
	day := 24 * time.Hour
	ts := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339) }
	customers := []domain.Customer{
		{
			ID: "1", Name: "Rajesh Kumar", Phone: "+91 98765 43210", Email: "rajesh@example.com", Address: "Kochi, Kerala",
			SystemType: domain.SystemDCR, KWSize: 5.5, PanelCompany: "Tata Power Solar", Stage: domain.StageInstallationCompleted,
			Notes: "Customer prefers morning installation", CreatedAt: ts(-14 * day),
			Timeline: []domain.TimelineEvent{
				{Action: "Product arrived", Timestamp: ts(-10 * day)},
				{Action: "Installation completed", Timestamp: ts(-3 * day)},
			},
			Documents: []domain.Document{
				{ID: "d1", CustomerID: "1", Name: "Installation Certificate.pdf", Type: "application/pdf", Size: 2048000, URL: "#", UploadedAt: ts(-5 * day)},
			},
		},
		{
			ID: "2", Name: "Priya Menon", Phone: "+91 98765 43211", Email: "priya@example.com", Address: "Trivandrum, Kerala",
			SystemType: domain.SystemNonDCR, KWSize: 3.0, PanelCompany: "Adani Solar", Stage: domain.StageFeasibility, CreatedAt: ts(-2 * day),
			Timeline: []domain.TimelineEvent{
				{Action: "Feasibility study started", Timestamp: ts(-1 * day)},
			},
		},
	}
	tasks := []domain.Task{
		{
			ID: "t1", CustomerID: "1", Title: "Complete KSEB Registration", Description: "Submit registration documents for Rajesh Kumar",
			Deadline: now.Add(2 * day), Priority: domain.PriorityHigh, Stage: domain.StageKSEBRegistration, CreatedAt: ts(0),
		},
		{
			ID: "t2", CustomerID: "2", Title: "Schedule site visit", Description: "Visit Priya Menon site for feasibility",
			Deadline: now.Add(-1 * day), Priority: domain.PriorityMedium, Stage: domain.StageFeasibility, CreatedAt: ts(0),
		},
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range customers {
			if err := e.Repo.InsertCustomer(ctx, tx, c); err != nil {
				return fmt.Errorf("seed customer %s: %w", c.ID, err)
			}
			for _, ev := range c.Timeline {
				if err := e.Repo.InsertTimelineEvent(ctx, tx, c.ID, ev); err != nil {
					return err
				}
			}
			for _, d := range c.Documents {
				if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
					return err
				}
			}
		}
		for _, t := range tasks {
			if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
				return fmt.Errorf("seed task %s: %w", t.ID, err)
			}
		}
		return e.Events.Append(ctx, tx, "workspace.seeded", "workspace", "", actorOr(actorID), events.EventPayload{
			"customers": len(customers), "tasks": len(tasks),
		})
	})
	return err == nil, err
}

// RecentEvents returns the newest events first.
func (e Engine) RecentEvents(ctx context.Context, limit int, evtType string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, evtType, "", "")
}

// EventsAfter returns events newer than cursor, oldest first.
func (e Engine) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	return e.Repo.EventsAfter(ctx, limit, cursor)
}
