package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/madhatter5501/dispatchd/internal/apperr"
)

// Request is the decoded form of an RPC Frame handed to a Handler.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Params map[string]string
	Data   json.RawMessage
}

// Handler serves one RPC route. Returning an *apperr.Error sets the
// response's Kind-appropriate behavior at the transport layer; any other
// error is treated as apperr.Internal.
type Handler func(ctx context.Context, req Request) (any, error)

type route struct {
	method   string
	segments []string
	handler  Handler
}

// Router dispatches RPC frames (method + path, e.g. "POST
// /tickets/:id/comments") to registered handlers, implementing the
// request/response half of §4.1 and the route surface of §6.2. Kept
// separate from Bus because RPC dispatch is a single request/response
// exchange, not a fan-out delivery.
type Router struct {
	mu     sync.RWMutex
	routes []route
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers a handler for method and pattern. pattern segments
// prefixed with ':' bind into Request.Params, e.g. "/tickets/:id".
func (r *Router) Handle(method, pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{
		method:   strings.ToUpper(method),
		segments: splitPath(pattern),
		handler:  h,
	})
}

// Dispatch matches method+path against registered routes and invokes the
// first match, binding :param segments and passing query/data through.
func (r *Router) Dispatch(ctx context.Context, method, path string, query map[string]string, data json.RawMessage) (any, error) {
	segments := splitPath(path)
	method = strings.ToUpper(method)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if rt.method != method {
			continue
		}
		params, ok := match(rt.segments, segments)
		if !ok {
			continue
		}
		req := Request{Method: method, Path: path, Query: query, Params: params, Data: data}
		return rt.handler(ctx, req)
	}
	return nil, apperr.New(apperr.NotFound, fmt.Sprintf("no route for %s %s", method, path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func match(pattern, actual []string) (map[string]string, bool) {
	if len(pattern) != len(actual) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			params[seg[1:]] = actual[i]
			continue
		}
		if seg != actual[i] {
			return nil, false
		}
	}
	return params, true
}
