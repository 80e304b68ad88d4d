// Package transactional tracks mutating API calls as transactions.
//
// The Listener is a kernel stage. Before dispatch it builds a transaction
// for handlers that opted in, after the action it records the outcome and
// shapes the response, and once the response is flushed it normalizes the
// messages and hands the transaction to the Finalizer.
package transactional

import (
	"bytes"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ashendes/transactional-rest/internal/embedded"
	"github.com/ashendes/transactional-rest/internal/kernel"
	"github.com/ashendes/transactional-rest/internal/metrics"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/policy"
	"github.com/ashendes/transactional-rest/internal/transaction"
)

// DefaultLinkPrefix is where clients find a transaction by id
const DefaultLinkPrefix = "/transactions/"

// MessageShaping holds the shaping failure of a transaction, if any
const MessageShaping = "shaping"

// Resolver decides participation of a handler
type Resolver interface {
	Resolve(target policy.Target) (policy.Decision, error)
}

// IdentityLookup returns the id fields of a model
type IdentityLookup interface {
	IDFields(model string) ([]string, error)
}

// Sink receives transactions ready to be stored
type Sink interface {
	Enqueue(tx *models.Transaction)
}

// Options configures a Listener
type Options struct {
	Resolver  Resolver
	Models    IdentityLookup
	Responses transaction.ResponseManager
	Sink      Sink
	Logger    log.FieldLogger
}

// Listener is the transaction lifecycle coordinator
type Listener struct {
	resolver  Resolver
	models    IdentityLookup
	responses transaction.ResponseManager
	updater   transaction.Updater
	sink      Sink
	log       log.FieldLogger
	now       func() time.Time
}

// NewListener creates the coordinator
func NewListener(opts Options) *Listener {
	if opts.Models == nil {
		opts.Models = models.DefaultRegistry()
	}
	if opts.Responses == nil {
		opts.Responses = transaction.DefaultResponseManager{LinkPrefix: DefaultLinkPrefix}
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Listener{
		resolver:  opts.Resolver,
		models:    opts.Models,
		responses: opts.Responses,
		sink:      opts.Sink,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// OnController builds the transaction of a participating request
func (l *Listener) OnController(rc *kernel.RequestContext) error {
	decision, err := l.resolver.Resolve(rc.Target)
	if err != nil {
		return err
	}
	rc.Decision = decision
	if !decision.Participate {
		return nil
	}

	fields, err := l.models.IDFields(decision.Model)
	if err != nil {
		return &policy.ConfigError{Target: rc.Target, Reason: err.Error()}
	}
	ids := make(map[string]*string, len(fields))
	for _, field := range fields {
		if v, ok := rc.Gin.Params.Get(field); ok {
			ids[field] = &v
		} else {
			ids[field] = nil
		}
	}

	body, err := peekBody(rc)
	if err != nil {
		l.log.WithFields(log.Fields{"target": rc.Target.String()}).WithError(err).Warn("Could not read request body")
	}

	tx := transaction.NewBuilder().
		SetRequestMethod(rc.RealMethod).
		SetRequestSource(models.SourceREST).
		SetRelatedRoute(decision.RelatedRoute).
		SetRelatedIDs(ids).
		SetPostContent(transaction.DecodeBody(body)).
		SetQueryParams(transaction.QueryParams(rc.Request().URL.Query())).
		SetModel(decision.Model).
		Build()

	rc.Transaction = tx
	rc.State = kernel.Built
	metrics.TransactionsBuilt.WithLabelValues(decision.Model, decision.RelatedRoute).Inc()
	return nil
}

// OnView records the outcome of the action on the transaction and shapes
// the view sent to the client
func (l *Listener) OnView(rc *kernel.RequestContext) {
	view, ok := rc.Result.(*kernel.View)
	if !ok || rc.Transaction == nil || rc.State != kernel.Built {
		return
	}
	tx := rc.Transaction

	payload, err := l.responses.Handle(tx, rc.Request().Method, view.Data, rc.Violations)
	if err != nil {
		metrics.ShapingFailures.Inc()
		l.logger(rc).WithError(err).Error("Failed to shape transactional response, sending raw data")
		if err := tx.AddMessage(MessageShaping, err.Error()); err != nil {
			l.logger(rc).WithError(err).Warn("Could not record shaping failure")
		}
	} else {
		view.Data = payload
		if rc.Decision.WriteStatusCodes {
			view.StatusCode = tx.Status
		}
		if !tx.Success {
			rc.Embed = rc.Embed.Merge(embedded.All)
		}
	}

	if err := l.updater.UpdateResponseTime(tx, rc.StartedAt, l.now()); err != nil {
		l.logger(rc).WithError(err).Warn("Could not stamp response time")
	}
	rc.State = kernel.Enriched
}

// OnTerminate normalizes the messages and hands the transaction over
func (l *Listener) OnTerminate(rc *kernel.RequestContext) {
	if rc.Transaction == nil || rc.State != kernel.Enriched {
		return
	}
	tx := rc.Transaction

	if err := tx.SetMessages(transaction.Normalize(tx.Messages)); err != nil {
		l.logger(rc).WithError(err).Error("Could not normalize transaction messages")
		return
	}

	l.sink.Enqueue(tx)
	rc.Transaction = nil
	rc.State = kernel.Finalized
}

func (l *Listener) logger(rc *kernel.RequestContext) log.FieldLogger {
	fields := log.Fields{"target": rc.Target.String()}
	if rc.Transaction != nil {
		fields["transaction_id"] = rc.Transaction.ID
	}
	return l.log.WithFields(fields)
}

// peekBody reads the request body and puts it back for the action
func peekBody(rc *kernel.RequestContext) ([]byte, error) {
	req := rc.Request()
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
