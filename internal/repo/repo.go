package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"solardesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// DeadlineLayout keeps stored deadlines lexically sortable.
const DeadlineLayout = "2006-01-02T15:04:05.000Z"

func formatDeadline(t time.Time) string {
	return t.UTC().Format(DeadlineLayout)
}

func parseDeadline(v string) (time.Time, error) {
	t, err := time.Parse(DeadlineLayout, v)
	if err != nil {
		return time.Parse(time.RFC3339Nano, v)
	}
	return t, nil
}

const customerColumns = `id,name,phone,COALESCE(email,''),COALESCE(address,''),system_type,kw_size,panel_company,stage,COALESCE(notes,''),created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.SystemType, &c.KWSize, &c.PanelCompany, &c.Stage, &c.Notes, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCustomer(ctx context.Context, tx *sql.Tx, c domain.Customer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO customers(id,name,phone,email,address,system_type,kw_size,panel_company,stage,notes,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Phone, nullable(c.Email), nullable(c.Address), c.SystemType, c.KWSize, c.PanelCompany, c.Stage, nullable(c.Notes), c.CreatedAt)
	return err
}

// GetCustomer loads a customer with its tasks, documents and timeline.
func (r Repo) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	c, err := scanCustomer(r.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id=?`, id))
	if err != nil {
		return c, err
	}
	if c.Tasks, err = r.ListTasks(ctx, TaskFilters{CustomerID: id}); err != nil {
		return c, err
	}
	if c.Documents, err = r.ListDocuments(ctx, id); err != nil {
		return c, err
	}
	if c.Timeline, err = r.ListTimeline(ctx, id); err != nil {
		return c, err
	}
	return c, nil
}

// ListCustomers returns customers in insertion order without nested records.
func (r Repo) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) CountCustomers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n)
	return n, err
}

func (r Repo) UpdateCustomerStage(ctx context.Context, tx *sql.Tx, id string, stage domain.Stage) error {
	res, err := tx.ExecContext(ctx, `UPDATE customers SET stage=? WHERE id=?`, stage, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,customer_id,title,description,deadline,priority,stage,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.CustomerID, t.Title, nullable(t.Description), formatDeadline(t.Deadline), t.Priority, nullable(string(t.Stage)), t.CreatedAt)
	return err
}

type TaskFilters struct {
	CustomerID string
}

const taskSelect = `SELECT t.id,t.customer_id,t.title,COALESCE(t.description,''),t.deadline,t.priority,COALESCE(t.stage,''),t.created_at,c.name
FROM tasks t JOIN customers c ON c.id=t.customer_id`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var deadline string
	if err := row.Scan(&t.ID, &t.CustomerID, &t.Title, &t.Description, &deadline, &t.Priority, &t.Stage, &t.CreatedAt, &t.CustomerName); err != nil {
		if err == sql.ErrNoRows {
			return t, ErrNotFound
		}
		return t, err
	}
	d, err := parseDeadline(deadline)
	if err != nil {
		return t, fmt.Errorf("task %s deadline: %w", t.ID, err)
	}
	t.Deadline = d
	return t, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

// ListTasks returns tasks in insertion order.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var (
		clauses []string
		args    []any
	)
	if f.CustomerID != "" {
		clauses = append(clauses, "t.customer_id=?")
		args = append(args, f.CustomerID)
	}
	query := taskSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.rowid ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,customer_id,name,type,size,url,uploaded_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.CustomerID, d.Name, d.Type, d.Size, nullable(d.URL), d.UploadedAt)
	return err
}

func (r Repo) ListDocuments(ctx context.Context, customerID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,customer_id,name,type,size,COALESCE(url,''),uploaded_at FROM documents WHERE customer_id=? ORDER BY uploaded_at ASC, rowid ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Document{}
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Name, &d.Type, &d.Size, &d.URL, &d.UploadedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertTimelineEvent(ctx context.Context, tx *sql.Tx, customerID string, ev domain.TimelineEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO timeline_events(customer_id,action,ts) VALUES (?,?,?)`, customerID, ev.Action, ev.Timestamp)
	return err
}

func (r Repo) ListTimeline(ctx context.Context, customerID string) ([]domain.TimelineEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT action,ts FROM timeline_events WHERE customer_id=? ORDER BY id ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.TimelineEvent{}
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.Action, &ev.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// GetSetting reports the stored value for key and whether it exists.
func (r Repo) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r Repo) PutSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
	return err
}

// LatestEvents returns the newest events first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID, or 0.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
