package kernel

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/embedded"
	"github.com/ashendes/transactional-rest/internal/policy"
)

// View is a trackable controller result: data plus the status to send
type View struct {
	Data       any
	StatusCode int
	Headers    map[string]string
}

// NewView creates a view
func NewView(data any, status int) *View {
	return &View{Data: data, StatusCode: status}
}

// Action is a controller action. A *View result goes through the view
// stage; any other result is rendered as is.
type Action func(c *gin.Context) any

// Listener reacts to the three lifecycle events of a dispatched request
type Listener interface {
	// OnController fires before the action runs. An error aborts the
	// request with a 500.
	OnController(rc *RequestContext) error
	// OnView fires after the action, before the result is rendered
	OnView(rc *RequestContext)
	// OnTerminate fires after the response has been flushed, whatever
	// the outcome
	OnTerminate(rc *RequestContext)
}

// Resolver validates targets at route registration
type Resolver interface {
	Resolve(target policy.Target) (policy.Decision, error)
}

type stage struct {
	name     string
	listener Listener
}

// Kernel dispatches controller actions through registered stages
type Kernel struct {
	resolver Resolver
	stages   []stage
	log      log.FieldLogger
}

// New creates a kernel. resolver may be nil when routes are not checked.
func New(resolver Resolver, logger log.FieldLogger) *Kernel {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Kernel{resolver: resolver, log: logger}
}

// Use appends a named stage. Stages fire in registration order.
func (k *Kernel) Use(name string, l Listener) {
	k.stages = append(k.stages, stage{name: name, listener: l})
}

// Route resolves target once and registers the action on r. A target
// whose policy cannot be resolved is a startup error.
func (k *Kernel) Route(r gin.IRoutes, method, path string, target policy.Target, action Action) error {
	if k.resolver != nil {
		if _, err := k.resolver.Resolve(target); err != nil {
			return fmt.Errorf("route %s %s: %w", method, path, err)
		}
	}
	r.Handle(method, path, k.Handle(target, action))
	return nil
}

// Handle returns the gin handler dispatching action for target
func (k *Kernel) Handle(target policy.Target, action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := newRequestContext(c, target)
		c.Set(ContextKey, rc)
		k.serve(c, rc, action)
	}
}

func (k *Kernel) serve(c *gin.Context, rc *RequestContext, action Action) {
	defer func() {
		if p := recover(); p != nil {
			k.log.WithFields(log.Fields{
				"target": rc.Target.String(),
				"panic":  fmt.Sprint(p),
			}).Error("Controller action panicked")
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}
		rc.StatusCode = c.Writer.Status()
		c.Writer.Flush()
		k.terminate(rc)
	}()

	for _, s := range k.stages {
		if err := s.listener.OnController(rc); err != nil {
			k.log.WithFields(log.Fields{
				"stage":  s.name,
				"target": rc.Target.String(),
			}).WithError(err).Error("Pre-dispatch stage failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	rc.Result = action(c)

	for _, s := range k.stages {
		s.listener.OnView(rc)
	}

	render(c, rc)
}

func (k *Kernel) terminate(rc *RequestContext) {
	for _, s := range k.stages {
		func() {
			defer func() {
				if p := recover(); p != nil {
					k.log.WithFields(log.Fields{
						"stage":  s.name,
						"target": rc.Target.String(),
						"panic":  fmt.Sprint(p),
					}).Error("Post-response stage panicked")
				}
			}()
			s.listener.OnTerminate(rc)
		}()
	}
}

func render(c *gin.Context, rc *RequestContext) {
	if c.Writer.Written() {
		return
	}
	groups := embedded.Parse(c.Query(embedded.KeyEmbed)).Merge(rc.Embed)

	switch result := rc.Result.(type) {
	case nil:
		c.Status(http.StatusNoContent)
	case *View:
		for name, value := range result.Headers {
			c.Header(name, value)
		}
		status := result.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if err, ok := result.Data.(error); ok {
			renderError(c, status, err)
			return
		}
		if result.Data == nil || status == http.StatusNoContent {
			c.Status(status)
			return
		}
		c.JSON(status, embedded.Apply(result.Data, groups))
	case error:
		renderError(c, http.StatusInternalServerError, result)
	default:
		c.JSON(http.StatusOK, embedded.Apply(result, groups))
	}
}

// renderError sends an error that reached the client unshaped. A success
// status is never paired with an error body.
func renderError(c *gin.Context, status int, err error) {
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
