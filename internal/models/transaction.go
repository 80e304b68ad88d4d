package models

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrSealed is returned when a persisted transaction is mutated
var ErrSealed = errors.New("transaction is sealed")

// Source identifies the channel that created a transaction
type Source string

// Source constants
const (
	SourceREST  Source = "rest"
	SourceAsync Source = "async"
	SourceBatch Source = "batch"
)

// Messages maps a message category (errors, warnings...) to its value
type Messages map[string]any

// Collection is a structured collection of message items that has to be
// flattened before it reaches storage
type Collection interface {
	Items() []any
}

// Flattener is implemented by message items that can render themselves
// as a plain map
type Flattener interface {
	Flatten() map[string]any
}

// Transaction is the tracked record of one mutating API call
type Transaction struct {
	ID            string             `json:"id"`
	RequestMethod string             `json:"request_method"`
	RequestSource Source             `json:"request_source"`
	RelatedRoute  string             `json:"related_route"`
	RelatedIDs    map[string]*string `json:"related_ids"`
	Model         string             `json:"model"`
	PostContent   any                `json:"post_content"`
	QueryParams   map[string]any     `json:"query_params"`
	Status        int                `json:"status"`
	Success       bool               `json:"success"`
	Messages      Messages           `json:"messages"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ResponseTime  time.Duration      `json:"-"`

	mu     sync.RWMutex
	sealed bool
}

// SetStatus records the HTTP-like outcome code
func (t *Transaction) SetStatus(status int) error {
	return t.mutate(func() { t.Status = status })
}

// SetSuccess records the outcome flag
func (t *Transaction) SetSuccess(success bool) error {
	return t.mutate(func() { t.Success = success })
}

// SetMessages replaces the message set
func (t *Transaction) SetMessages(messages Messages) error {
	return t.mutate(func() { t.Messages = messages })
}

// AddMessage sets a single message category
func (t *Transaction) AddMessage(key string, value any) error {
	return t.mutate(func() {
		if t.Messages == nil {
			t.Messages = Messages{}
		}
		t.Messages[key] = value
	})
}

// SetResponseTime records how long the request took up to the view phase
func (t *Transaction) SetResponseTime(d time.Duration, at time.Time) error {
	return t.mutate(func() {
		t.ResponseTime = d
		t.UpdatedAt = at
	})
}

// Seal marks the transaction as persisted. Every later mutation fails.
func (t *Transaction) Seal() {
	t.mu.Lock()
	t.sealed = true
	t.mu.Unlock()
}

// IsSealed reports whether the transaction has been persisted
func (t *Transaction) IsSealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

func (t *Transaction) mutate(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return ErrSealed
	}
	fn()
	return nil
}

type transactionJSON struct {
	ID             string             `json:"id"`
	RequestMethod  string             `json:"request_method"`
	RequestSource  Source             `json:"request_source"`
	RelatedRoute   string             `json:"related_route"`
	RelatedIDs     map[string]*string `json:"related_ids"`
	Model          string             `json:"model"`
	PostContent    any                `json:"post_content"`
	QueryParams    map[string]any     `json:"query_params"`
	Status         int                `json:"status"`
	Success        bool               `json:"success"`
	Messages       Messages           `json:"messages"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	ResponseTimeMS int64              `json:"response_time_ms"`
}

// MarshalJSON serializes the transaction with the response time in milliseconds
func (t *Transaction) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return json.Marshal(transactionJSON{
		ID:             t.ID,
		RequestMethod:  t.RequestMethod,
		RequestSource:  t.RequestSource,
		RelatedRoute:   t.RelatedRoute,
		RelatedIDs:     t.RelatedIDs,
		Model:          t.Model,
		PostContent:    t.PostContent,
		QueryParams:    t.QueryParams,
		Status:         t.Status,
		Success:        t.Success,
		Messages:       t.Messages,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		ResponseTimeMS: t.ResponseTime.Milliseconds(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON. The result is not sealed.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw transactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.ID = raw.ID
	t.RequestMethod = raw.RequestMethod
	t.RequestSource = raw.RequestSource
	t.RelatedRoute = raw.RelatedRoute
	t.RelatedIDs = raw.RelatedIDs
	t.Model = raw.Model
	t.PostContent = raw.PostContent
	t.QueryParams = raw.QueryParams
	t.Status = raw.Status
	t.Success = raw.Success
	t.Messages = raw.Messages
	t.CreatedAt = raw.CreatedAt
	t.UpdatedAt = raw.UpdatedAt
	t.ResponseTime = time.Duration(raw.ResponseTimeMS) * time.Millisecond
	return nil
}
