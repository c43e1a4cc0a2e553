package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/dlmelendez/identityazuretable-sub001/pkg/api/router"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/keys"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/migrations"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/pagination"
	"github.com/dlmelendez/identityazuretable-sub001/pkg/store/table"
)

const scanTimeout = 15 * time.Second

// ProgressFunc reports the current or last migration run. ok is false
// before the first run starts.
type ProgressFunc func() (p migrations.Progress, ok bool)

// Admin serves the operator endpoints.
type Admin struct {
	Service  string
	Progress ProgressFunc
	// Tables are the browsable tables by name. Names outside the map are
	// rejected so a scan never creates a table.
	Tables   map[string]table.Table
	Scheme   keys.Scheme
	Gatherer prometheus.Gatherer
}

// Routes registers the admin endpoints on r.
func (a *Admin) Routes(r *router.Router) {
	r.GET("/admin/health", a.health)
	r.GET("/admin/migration", a.migration)
	r.GET("/admin/tables", a.tables)
	r.GET("/admin/scan", a.scan)
	r.GET("/admin/keys/{kind}", a.deriveKey)

	g := a.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.GET("/admin/debug/prometheus", wrapHTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// Handler returns the routed admin handler with a JSON 404.
func (a *Admin) Handler() fasthttp.RequestHandler {
	r := router.New()
	a.Routes(r)
	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
	return r.Handler
}

func (a *Admin) health(ctx *fasthttp.RequestCtx) {
	service := a.Service
	if service == "" {
		service = "idtable"
	}
	_ = router.WriteJSON(ctx, map[string]string{"status": "ok", "service": service})
}

func (a *Admin) migration(ctx *fasthttp.RequestCtx) {
	if a.Progress == nil {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "no migration has started")
		return
	}
	p, ok := a.Progress()
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "no migration has started")
		return
	}
	_ = router.WriteJSON(ctx, p)
}

func (a *Admin) tables(ctx *fasthttp.RequestCtx) {
	names := make([]string, 0, len(a.Tables))
	for n := range a.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	_ = router.WriteJSON(ctx, map[string][]string{"tables": names})
}

type entityView struct {
	PartitionKey string         `json:"partition_key"`
	RowKey       string         `json:"row_key"`
	ETag         string         `json:"etag,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Properties   map[string]any `json:"properties"`
}

func viewOf(e *table.Entity) entityView {
	props := make(map[string]any, len(e.Properties))
	for _, p := range e.Properties {
		props[p.Name] = p.Value
	}
	return entityView{PartitionKey: e.PartitionKey, RowKey: e.RowKey, ETag: e.ETag, Timestamp: e.Timestamp, Properties: props}
}

// scan returns one page of a table: ?table=&filter=&limit=&cursor=.
func (a *Admin) scan(ctx *fasthttp.RequestCtx) {
	req := pagination.ParseScanRequest(ctx)
	if req.Table == "" {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "table is required")
		return
	}
	t, ok := a.Tables[req.Table]
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "unknown table "+req.Table)
		return
	}

	qctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()
	page, err := t.Query(qctx, table.Query{Filter: req.Filter, PageSize: req.Limit, ContinuationToken: req.Cursor})
	switch {
	case errors.Is(err, table.ErrInvalidQuery):
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	case errors.Is(err, table.ErrTableNotFound):
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, err.Error())
		return
	case err != nil:
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
		return
	}

	rows := make([]entityView, 0, len(page.Entities))
	for _, e := range page.Entities {
		rows = append(rows, viewOf(e))
	}
	_ = router.WriteJSON(ctx, map[string]any{
		"rows":       rows,
		"pagination": pagination.NewScanResponse(req.Limit, page.ContinuationToken, len(rows)),
	})
}

// deriveKey shows the key a value maps to: /admin/keys/email?value=a@b.c.
func (a *Admin) deriveKey(ctx *fasthttp.RequestCtx) {
	if a.Scheme == nil {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "no key scheme configured")
		return
	}
	kind := router.PathParam(ctx, "kind")
	var values []string
	for _, v := range ctx.QueryArgs().PeekMulti("value") {
		values = append(values, string(v))
	}
	key, err := keys.Derive(a.Scheme, kind, values...)
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	_ = router.WriteJSON(ctx, map[string]any{
		"kind":        kind,
		"scheme":      a.Scheme.Name(),
		"key_version": a.Scheme.KeyVersion(),
		"key":         key,
	})
}

func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}
