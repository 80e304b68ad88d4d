// Package kernel runs controller actions through an ordered pipeline of
// named listener stages: pre-dispatch, post-result and post-response.
package kernel

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashendes/transactional-rest/internal/embedded"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/policy"
	"github.com/ashendes/transactional-rest/internal/transaction"
)

// ContextKey is the gin context key of the *RequestContext
const ContextKey = "kernel.request"

// TransactionState is the lifecycle position of the request's transaction
type TransactionState int

// Transaction states
const (
	NotTracked TransactionState = iota
	Built
	Enriched
	Finalized
)

func (s TransactionState) String() string {
	switch s {
	case Built:
		return "built"
	case Enriched:
		return "enriched"
	case Finalized:
		return "finalized"
	default:
		return "not_tracked"
	}
}

// RequestContext is the request scoped state threaded through every stage
type RequestContext struct {
	Gin        *gin.Context
	Target     policy.Target
	RealMethod string
	StartedAt  time.Time

	// Decision is the policy a tracking stage resolved for Target
	Decision    policy.Decision
	Transaction *models.Transaction
	State       TransactionState
	Violations  transaction.ViolationList

	// Embed carries embed groups forced by a stage, on top of the groups
	// the client asked for
	Embed embedded.Groups

	Result     any
	StatusCode int
}

func newRequestContext(c *gin.Context, target policy.Target) *RequestContext {
	return &RequestContext{
		Gin:        c,
		Target:     target,
		RealMethod: RealMethod(c.Request),
		StartedAt:  time.Now(),
	}
}

// Request returns the underlying HTTP request
func (rc *RequestContext) Request() *http.Request {
	return rc.Gin.Request
}

// Current returns the request context of a request dispatched by a Kernel
func Current(c *gin.Context) *RequestContext {
	v, ok := c.Get(ContextKey)
	if !ok {
		return nil
	}
	rc, _ := v.(*RequestContext)
	return rc
}

// AddViolations records validation failures for the current request
func AddViolations(c *gin.Context, violations transaction.ViolationList) {
	if rc := Current(c); rc != nil {
		rc.Violations = append(rc.Violations, violations...)
	}
}

type realMethodKey struct{}

// MethodOverrideHeader lets clients tunnel verbs through POST
const MethodOverrideHeader = "X-HTTP-Method-Override"

var overridable = map[string]bool{
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// MethodOverride rewrites POST requests carrying X-HTTP-Method-Override so
// they are routed as the requested verb. It must wrap the router, since
// routing happens before any gin middleware runs.
func MethodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if m := r.Header.Get(MethodOverrideHeader); overridable[m] {
				ctx := context.WithValue(r.Context(), realMethodKey{}, r.Method)
				r = r.WithContext(ctx)
				r.Method = m
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RealMethod returns the verb used on the wire, before any override
func RealMethod(r *http.Request) string {
	if m, ok := r.Context().Value(realMethodKey{}).(string); ok {
		return m
	}
	return r.Method
}
