package kernel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashendes/transactional-rest/internal/embedded"
	"github.com/ashendes/transactional-rest/internal/policy"
)

type recorder struct {
	name          string
	events        *[]string
	controllerErr error
	onTerminate   func(rc *RequestContext)
}

func (r recorder) OnController(rc *RequestContext) error {
	*r.events = append(*r.events, r.name+":controller")
	return r.controllerErr
}

func (r recorder) OnView(rc *RequestContext) {
	*r.events = append(*r.events, r.name+":view")
}

func (r recorder) OnTerminate(rc *RequestContext) {
	*r.events = append(*r.events, r.name+":terminate")
	if r.onTerminate != nil {
		r.onTerminate(rc)
	}
}

type staticResolver struct{ err error }

func (s staticResolver) Resolve(policy.Target) (policy.Decision, error) {
	return policy.Decision{}, s.err
}

type expandable struct {
	ID      string
	Related []string
}

func (e expandable) Embed(groups embedded.Groups) any {
	out := gin.H{"id": e.ID}
	if groups.Has("related") {
		out["related"] = e.Related
	}
	return out
}

var target = policy.Target{Controller: "TestController", Action: "run"}

func serve(k *Kernel, action Action, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Handle(req.Method, "/run", k.Handle(target, action))
	rec := httptest.NewRecorder()
	MethodOverride(router).ServeHTTP(rec, req)
	return rec
}

func TestStagesFireInOrder(t *testing.T) {
	var events []string
	k := New(nil, nil)
	k.Use("first", recorder{name: "first", events: &events})
	k.Use("second", recorder{name: "second", events: &events})

	rec := serve(k, func(c *gin.Context) any {
		events = append(events, "action")
		return NewView(gin.H{"ok": true}, http.StatusOK)
	}, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{
		"first:controller", "second:controller",
		"action",
		"first:view", "second:view",
		"first:terminate", "second:terminate",
	}, events)
}

func TestTerminateFiresAfterFlush(t *testing.T) {
	var events []string
	var bodyAtTerminate string
	var rec *httptest.ResponseRecorder
	k := New(nil, nil)
	k.Use("probe", recorder{name: "probe", events: &events, onTerminate: func(rc *RequestContext) {
		bodyAtTerminate = rec.Body.String()
		assert.Equal(t, http.StatusAccepted, rc.StatusCode)
	}})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/run", k.Handle(target, func(c *gin.Context) any {
		return NewView(gin.H{"queued": true}, http.StatusAccepted)
	}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.JSONEq(t, `{"queued":true}`, bodyAtTerminate)
	assert.True(t, rec.Flushed)
}

func TestControllerErrorAbortsButTerminates(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var events []string
	k := New(nil, logger)
	k.Use("failing", recorder{name: "failing", events: &events, controllerErr: errors.New("policy broken")})

	called := false
	rec := serve(k, func(c *gin.Context) any {
		called = true
		return nil
	}, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"policy broken"}`, rec.Body.String())
	assert.False(t, called)
	assert.Equal(t, []string{"failing:controller", "failing:terminate"}, events)
	assert.Len(t, hook.AllEntries(), 1)
}

func TestPanicIsRecoveredAndTerminates(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var events []string
	k := New(nil, logger)
	k.Use("probe", recorder{name: "probe", events: &events})

	rec := serve(k, func(c *gin.Context) any {
		panic("boom")
	}, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"probe:controller", "probe:terminate"}, events)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "boom", hook.LastEntry().Data["panic"])
}

func TestTerminatePanicIsContained(t *testing.T) {
	logger, hook := test.NewNullLogger()
	var events []string
	k := New(nil, logger)
	k.Use("bad", recorder{name: "bad", events: &events, onTerminate: func(*RequestContext) { panic("late") }})
	k.Use("good", recorder{name: "good", events: &events})

	rec := serve(k, func(c *gin.Context) any { return NewView(gin.H{}, http.StatusOK) },
		httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, events, "good:terminate")
	assert.NotEmpty(t, hook.AllEntries())
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		result any
		embed  embedded.Groups
		query  string
		status int
		body   string
	}{
		{name: "nil result", result: nil, status: http.StatusNoContent},
		{name: "raw slice", result: []int{1, 2}, status: http.StatusOK, body: `[1,2]`},
		{name: "view default status", result: &View{Data: gin.H{"a": 1}}, status: http.StatusOK, body: `{"a":1}`},
		{name: "view without data", result: NewView(nil, http.StatusAccepted), status: http.StatusAccepted},
		{name: "lazy related", result: NewView(expandable{ID: "x", Related: []string{"y"}}, http.StatusOK), status: http.StatusOK, body: `{"id":"x"}`},
		{name: "forced embed", result: NewView(expandable{ID: "x", Related: []string{"y"}}, http.StatusOK), embed: embedded.All, status: http.StatusOK, body: `{"id":"x","related":["y"]}`},
		{name: "error view", result: NewView(errors.New("out of stock"), http.StatusConflict), status: http.StatusConflict, body: `{"error":"out of stock"}`},
		{name: "error view with success status", result: NewView(errors.New("boom"), http.StatusOK), status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "raw error", result: errors.New("boom"), status: http.StatusInternalServerError, body: `{"error":"boom"}`},
		{name: "client embed", result: NewView(expandable{ID: "x", Related: []string{"y"}}, http.StatusOK), query: "?_embed=related", status: http.StatusOK, body: `{"id":"x","related":["y"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := New(nil, nil)
			rec := serve(k, func(c *gin.Context) any {
				Current(c).Embed = tt.embed
				return tt.result
			}, httptest.NewRequest(http.MethodGet, "/run"+tt.query, nil))

			assert.Equal(t, tt.status, rec.Code)
			if tt.body == "" {
				assert.Empty(t, rec.Body.String())
				return
			}
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestViewHeaders(t *testing.T) {
	k := New(nil, nil)
	rec := serve(k, func(c *gin.Context) any {
		return &View{Data: gin.H{}, StatusCode: http.StatusCreated, Headers: map[string]string{"Location": "/orders/1"}}
	}, httptest.NewRequest(http.MethodPost, "/run", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/orders/1", rec.Header().Get("Location"))
}

func TestRouteChecksPolicy(t *testing.T) {
	router := gin.New()
	k := New(staticResolver{err: policy.ErrConfig}, nil)
	err := k.Route(router, http.MethodPost, "/run", target, func(c *gin.Context) any { return nil })
	assert.ErrorIs(t, err, policy.ErrConfig)

	k = New(staticResolver{}, nil)
	require.NoError(t, k.Route(router, http.MethodPost, "/run", target, func(c *gin.Context) any { return nil }))
}

func TestMethodOverride(t *testing.T) {
	var seen, real string
	h := MethodOverride(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, real = r.Method, RealMethod(r)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(MethodOverrideHeader, http.MethodDelete)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, http.MethodDelete, seen)
	assert.Equal(t, http.MethodPost, real)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(MethodOverrideHeader, "TRACE")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, http.MethodPost, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(MethodOverrideHeader, http.MethodDelete)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, http.MethodGet, seen)
	assert.Equal(t, http.MethodGet, real)
}

func TestAddViolationsOutsideKernel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, Current(c))
	AddViolations(c, nil)
}

func TestTransactionStateString(t *testing.T) {
	assert.Equal(t, "not_tracked", NotTracked.String())
	assert.Equal(t, "built", Built.String())
	assert.Equal(t, "enriched", Enriched.String())
	assert.Equal(t, "finalized", Finalized.String())
}
