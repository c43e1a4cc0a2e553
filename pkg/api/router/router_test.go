package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func serve(r *Router, method, uri string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	r.Handler(&ctx)
	return &ctx
}

func TestParamsAndMethods(t *testing.T) {
	r := New()
	var got string
	r.GET("/admin/keys/{kind}", func(ctx *fasthttp.RequestCtx) { got = PathParam(ctx, "kind") })
	r.POST("/admin/keys/{kind}", func(ctx *fasthttp.RequestCtx) { got = "post:" + PathParam(ctx, "kind") })

	serve(r, fasthttp.MethodGet, "/admin/keys/email?value=x")
	assert.Equal(t, "email", got)
	serve(r, fasthttp.MethodPost, "/admin/keys/login/")
	assert.Equal(t, "post:login", got)
}

func TestNoMatch(t *testing.T) {
	r := New()
	r.GET("/admin/health", func(*fasthttp.RequestCtx) {})
	r.POST("/admin/health", func(*fasthttp.RequestCtx) {})

	ctx := serve(r, fasthttp.MethodDelete, "/admin/health")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET, POST", string(ctx.Response.Header.Peek(fasthttp.HeaderAllow)))

	ctx = serve(r, fasthttp.MethodGet, "/admin/health/extra")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	r.NotFound(func(ctx *fasthttp.RequestCtx) { WriteJSONError(ctx, fasthttp.StatusNotFound, "nope") })
	ctx = serve(r, fasthttp.MethodGet, "/")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"nope"}`, string(ctx.Response.Body()))
}
