package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"solardesk/internal/app"
	"solardesk/internal/domain"
	"solardesk/internal/engine"
	"solardesk/internal/notify"
	"solardesk/internal/repo"
)

// Config for the HTTP API handler. Notifications is optional; without it the
// notification endpoints report a disabled scheduler.
type Config struct {
	Engine        engine.Engine
	Notifications *app.Notifications
	BasePath      string
	Logger        *log.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"kw_size\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the SolarDesk API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	if cfg.Logger != nil {
		router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: cfg.Logger, NoColor: true}))
	}
	router.Use(middleware.Recoverer)
	hcfg := huma.DefaultConfig("SolarDesk API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCatalog(group, cfg.Engine)
	registerCustomers(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerViews(group, cfg.Engine)
	registerNotifications(group, cfg.Engine, cfg.Notifications)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, notify.ErrNotActive) {
		return newAPIError(http.StatusConflict, "scheduler_inactive", err.Error(), nil)
	}
	if errors.Is(err, notify.ErrCycleRunning) {
		return newAPIError(http.StatusConflict, "cycle_running", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>SolarDesk API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Stages, panel companies and document types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Catalog `json:"body"`
	}, error) {
		return &struct {
			Body engine.Catalog `json:"body"`
		}{Body: e.Catalog()}, nil
	})
}

// filterQuery carries the customer filter controls. The kW bounds arrive as
// strings so an empty value means "no bound".
type filterQuery struct {
	PanelCompany string `query:"panel_company"`
	MinKW        string `query:"min_kw"`
	MaxKW        string `query:"max_kw"`
	Stage        string `query:"stage"`
}

func (q filterQuery) state() (domain.FilterState, error) {
	fs := domain.FilterState{PanelCompany: strings.TrimSpace(q.PanelCompany)}
	var err error
	if fs.MinKW, err = parseBound("min_kw", q.MinKW); err != nil {
		return fs, err
	}
	if fs.MaxKW, err = parseBound("max_kw", q.MaxKW); err != nil {
		return fs, err
	}
	stage := strings.TrimSpace(q.Stage)
	if stage != "" && stage != domain.FilterAll {
		s, err := domain.ParseStage(stage)
		if err != nil {
			return fs, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"stage": stage})
		}
		fs.Stage = s
	}
	return fs, nil
}

func parseBound(name, v string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+name, map[string]any{name: v})
	}
	return &f, nil
}

func registerCustomers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-customers",
		Method:      http.MethodGet,
		Path:        "/customers",
		Summary:     "List customers matching filters and an optional search query",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		PanelCompany string `query:"panel_company"`
		MinKW        string `query:"min_kw"`
		MaxKW        string `query:"max_kw"`
		Stage        string `query:"stage"`
		Query        string `query:"q"`
	}) (*struct {
		Body customerList `json:"body"`
	}, error) {
		fs, err := filterQuery{
			PanelCompany: input.PanelCompany,
			MinKW:        input.MinKW,
			MaxKW:        input.MaxKW,
			Stage:        input.Stage,
		}.state()
		if err != nil {
			return nil, err
		}
		items, err := e.Customers(ctx, fs, input.Query)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body customerList `json:"body"`
		}{Body: customerList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-customer",
		Method:      http.MethodPost,
		Path:        "/customers",
		Summary:     "Create customer",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateCustomerRequest `json:"body"`
	}) (*struct {
		Body domain.Customer `json:"body"`
	}, error) {
		c, err := e.CreateCustomer(ctx, input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Customer `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-customer",
		Method:      http.MethodGet,
		Path:        "/customers/{id}",
		Summary:     "Get customer with tasks, documents and timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Customer `json:"body"`
	}, error) {
		c, err := e.Customer(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Customer `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-customer-stage",
		Method:      http.MethodPatch,
		Path:        "/customers/{id}/stage",
		Summary:     "Move customer to another installation stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body SetStageRequest `json:"body"`
	}) (*struct {
		Body domain.Customer `json:"body"`
	}, error) {
		c, err := e.SetStage(ctx, input.ID, input.Body.Stage, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Customer `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-document",
		Method:      http.MethodPost,
		Path:        "/customers/{id}/documents",
		Summary:     "Record uploaded document metadata",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AddDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		d, err := e.AddDocument(ctx, engine.DocumentOptions{
			CustomerID: input.ID,
			Name:       input.Body.Name,
			Type:       input.Body.Type,
			Size:       input.Body.Size,
			URL:        input.Body.URL,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks ordered by deadline or priority",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Sort string `query:"sort" enum:"deadline,priority" default:"deadline"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		key, err := domain.ParseSortKey(input.Sort)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Tasks(ctx, key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-task",
		Method:      http.MethodPost,
		Path:        "/tasks",
		Summary:     "Create task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			CustomerID:  input.Body.CustomerID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
			Priority:    input.Body.Priority,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.Task(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Dashboard stats and task panels for the filtered customers",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *filterQuery) (*struct {
		Body domain.Dashboard `json:"body"`
	}, error) {
		fs, err := input.state()
		if err != nil {
			return nil, err
		}
		d, err := e.Dashboard(ctx, fs)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "Summary report over all customers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		r, err := e.Reports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Global customer search by name, phone or kW",
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
	}) (*struct {
		Body customerList `json:"body"`
	}, error) {
		items, err := e.Search(ctx, input.Query)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body customerList `json:"body"`
		}{Body: customerList{Items: nonNil(items)}}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine, n *app.Notifications) {
	consent := notify.StoreConsent{Store: e.Repo, Events: &e.Events}
	if n != nil {
		consent = n.Consent
	}
	status := func(ctx context.Context) (NotificationStatus, error) {
		c, err := consent.CurrentConsent(ctx)
		if err != nil {
			return NotificationStatus{}, err
		}
		if n == nil {
			return NotificationStatus{State: notify.StateDisabled, Consent: c}, nil
		}
		return notificationStatus(n.Scheduler.Status(), c), nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Deadline scheduler status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotificationStatus `json:"body"`
	}, error) {
		st, err := status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationStatus `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-notification-consent",
		Method:      http.MethodPut,
		Path:        "/notifications/consent",
		Summary:     "Record the answer to the notification consent prompt",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ConsentRequest `json:"body"`
	}) (*struct {
		Body NotificationStatus `json:"body"`
	}, error) {
		d, err := notify.ParseDecision(input.Body.Decision)
		if err != nil {
			return nil, handleError(err)
		}
		if n != nil {
			_, err = n.Decide(ctx, d)
		} else {
			_, err = consent.Record(ctx, d)
		}
		if err != nil {
			return nil, handleError(err)
		}
		st, err := status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationStatus `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-deadlines",
		Method:      http.MethodPost,
		Path:        "/notifications/check",
		Summary:     "Run one deadline check now",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body notify.CycleResult `json:"body"`
	}, error) {
		if n == nil {
			return nil, handleError(fmt.Errorf("%w (state %s)", notify.ErrNotActive, notify.StateDisabled))
		}
		res, err := n.Scheduler.Poll(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body notify.CycleResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type  string `query:"type"`
		Limit int    `query:"limit" default:"50"`
		After string `query:"after"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var (
			items []domain.Event
			err   error
		)
		if input.After != "" {
			cursor, perr := strconv.ParseInt(input.After, 10, 64)
			if perr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"after": input.After})
			}
			items, err = e.EventsAfter(ctx, limit, cursor)
		} else {
			items, err = e.RecentEvents(ctx, limit, input.Type)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: eventList{Items: nonNil(items)}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
