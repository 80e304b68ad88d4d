package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashendes/transactional-rest/internal/embedded"
	"github.com/ashendes/transactional-rest/internal/models"
)

// GroupTransaction embeds the full transaction record in a response
const GroupTransaction = "transaction"

// MessageErrors is the message category violations are filed under
const MessageErrors = "errors"

// StatusCoder is implemented by errors that know their HTTP status
type StatusCoder interface {
	StatusCode() int
}

// ShapeError is returned when a response cannot be shaped
type ShapeError struct {
	Reason string
	Err    error
}

func (e *ShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shape response: %s: %v", e.Reason, e.Err)
	}
	return "shape response: " + e.Reason
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// ResponseManager records the handler outcome on the transaction and
// computes the payload sent to the client
//
// method is the verb the request was routed as, which may differ from the
// recorded tx.RequestMethod when the client overrode it. An empty method
// falls back to the recorded one.
type ResponseManager interface {
	Handle(tx *models.Transaction, method string, data any, violations ViolationList) (any, error)
}

// DefaultResponseManager wraps handler data in a Payload linking to the
// transaction
type DefaultResponseManager struct {
	// LinkPrefix is prepended to the transaction id in the payload links
	LinkPrefix string
}

// Handle implements ResponseManager
func (m DefaultResponseManager) Handle(tx *models.Transaction, method string, data any, violations ViolationList) (any, error) {
	if method == "" {
		method = tx.RequestMethod
	}
	for i, v := range violations {
		if strings.TrimSpace(v.Message) == "" {
			return nil, &ShapeError{Reason: fmt.Sprintf("violation %d has no message", i)}
		}
	}

	var (
		success = true
		status  = successStatus(method)
		errs    ViolationList
	)
	switch {
	case len(violations) > 0:
		success, status, errs = false, http.StatusBadRequest, violations
	default:
		if err, ok := data.(error); ok {
			success, status = false, http.StatusInternalServerError
			var sc StatusCoder
			if errors.As(err, &sc) {
				status = sc.StatusCode()
			}
			errs = ViolationList{{Message: err.Error()}}
			data = nil
		}
	}

	if err := record(tx, success, status, errs); err != nil {
		return nil, &ShapeError{Reason: "record outcome", Err: err}
	}
	return &Payload{Data: data, Transaction: tx, Link: m.LinkPrefix + tx.ID}, nil
}

func record(tx *models.Transaction, success bool, status int, errs ViolationList) error {
	if err := tx.SetSuccess(success); err != nil {
		return err
	}
	if err := tx.SetStatus(status); err != nil {
		return err
	}
	if len(errs) > 0 {
		return tx.AddMessage(MessageErrors, errs)
	}
	return nil
}

func successStatus(method string) int {
	if method == http.MethodPost {
		return http.StatusCreated
	}
	return http.StatusOK
}

// Payload is the response body of a tracked request
type Payload struct {
	Data        any
	Transaction *models.Transaction
	Link        string
}

type payloadLinks struct {
	Transaction string `json:"transaction"`
}

type payloadEmbedded struct {
	Transaction *models.Transaction `json:"transaction"`
}

type payloadJSON struct {
	Data     any              `json:"data,omitempty"`
	Links    payloadLinks     `json:"_links"`
	Embedded *payloadEmbedded `json:"_embedded,omitempty"`
}

// Embed implements embedded.Expander. The transaction and the related
// resources of Data are only included for the matching groups.
func (p *Payload) Embed(groups embedded.Groups) any {
	out := payloadJSON{
		Data:  embedded.Apply(p.Data, groups),
		Links: payloadLinks{Transaction: p.Link},
	}
	if groups.Has(GroupTransaction) {
		out.Embedded = &payloadEmbedded{Transaction: p.Transaction}
	}
	return out
}

// MarshalJSON renders the payload without optional groups
func (p *Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Embed(nil))
}
