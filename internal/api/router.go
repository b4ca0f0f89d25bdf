package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tillpoint/terminal-core/internal/api/middleware"
	"github.com/tillpoint/terminal-core/internal/reader"
	"github.com/tillpoint/terminal-core/internal/transport"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

// RouterParams wire the ops surface to the terminal's services. Downstream
// may be nil when the terminal runs offline-only.
type RouterParams struct {
	Logger     *logger.Logger
	TerminalID string
	Gate       *reader.Gate
	Transport  transport.Transport
	Intents    intentLister
	Processor  pendingProcessor
	Charger    charger
	Employees  pinVerifier
	Downstream syncTrigger
	Gatherer   prometheus.Gatherer
}

// NewRouter builds the local ops handler: health, metrics, reader recovery,
// intent visibility, sync triggers, and the charge endpoint the register UI
// calls.
func NewRouter(params RouterParams) (http.Handler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("reader gate required")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent lister required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("pending processor required")
	}
	if params.Charger == nil {
		return nil, fmt.Errorf("charger required")
	}
	if params.Employees == nil {
		return nil, fmt.Errorf("employee service required")
	}

	h := &handlers{
		logg:       params.Logger,
		terminalID: params.TerminalID,
		gate:       params.Gate,
		transport:  params.Transport,
		intents:    params.Intents,
		processor:  params.Processor,
		charger:    params.Charger,
		employees:  params.Employees,
		downstream: params.Downstream,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID(params.Logger))
	r.Use(middleware.Logging(params.Logger))
	r.Use(middleware.Recoverer(params.Logger))

	r.Get("/healthz", h.healthz)
	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/readers", h.readerList)
		r.Get("/readers/{readerID}/health", h.readerHealth)
		r.Post("/readers/{readerID}/reset", h.readerReset)

		r.Get("/intents/pending", h.intentsPending)
		r.Get("/intents/needs-reconciliation", h.intentsNeedsReconciliation)
		r.Post("/intents/process", h.intentsProcess)
		r.Get("/intents/{intentID}", h.intentGet)
		r.Post("/intents/{intentID}/void", h.void)

		r.Post("/sync/downstream", h.syncTrigger)
		r.Get("/sync/watermarks", h.syncWatermarks)

		r.Post("/charges", h.charge)

		r.Post("/employees/{employeeID}/verify-pin", h.verifyPIN)
	})

	return r, nil
}
