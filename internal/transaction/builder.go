// Package transaction assembles, shapes and normalizes transaction records.
package transaction

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ashendes/transactional-rest/internal/models"
)

// Builder aggregates the request facts of one transaction. Use a fresh
// builder per request.
type Builder struct {
	method      string
	source      models.Source
	route       string
	ids         map[string]*string
	postContent any
	queryParams map[string]any
	model       string
	now         func() time.Time
}

// NewBuilder returns an empty builder
func NewBuilder() *Builder {
	return &Builder{source: models.SourceREST, now: time.Now}
}

// SetRequestMethod records the HTTP verb used on the wire
func (b *Builder) SetRequestMethod(method string) *Builder {
	b.method = method
	return b
}

// SetRequestSource records the channel that created the transaction
func (b *Builder) SetRequestSource(source models.Source) *Builder {
	b.source = source
	return b
}

// SetRelatedRoute records the logical route the transaction is filed under
func (b *Builder) SetRelatedRoute(route string) *Builder {
	b.route = route
	return b
}

// SetRelatedIDs records the identifier values of the target resource
func (b *Builder) SetRelatedIDs(ids map[string]*string) *Builder {
	b.ids = ids
	return b
}

// SetPostContent records the decoded request body
func (b *Builder) SetPostContent(content any) *Builder {
	b.postContent = content
	return b
}

// SetQueryParams records the query string
func (b *Builder) SetQueryParams(params map[string]any) *Builder {
	b.queryParams = params
	return b
}

// SetModel records the name of the resource acted upon
func (b *Builder) SetModel(model string) *Builder {
	b.model = model
	return b
}

// Build returns a new, unpersisted transaction
func (b *Builder) Build() *models.Transaction {
	now := b.now()
	ids := make(map[string]*string, len(b.ids))
	for k, v := range b.ids {
		ids[k] = v
	}
	params := make(map[string]any, len(b.queryParams))
	for k, v := range b.queryParams {
		params[k] = v
	}
	return &models.Transaction{
		ID:            uuid.New().String(),
		RequestMethod: b.method,
		RequestSource: b.source,
		RelatedRoute:  b.route,
		RelatedIDs:    ids,
		Model:         b.model,
		PostContent:   b.postContent,
		QueryParams:   params,
		Messages:      models.Messages{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// DecodeBody decodes a JSON request body. Empty or malformed bodies decode
// to nil.
func DecodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var content any
	if err := json.Unmarshal(body, &content); err != nil {
		return nil
	}
	return content
}

// QueryParams flattens url values: a key given once maps to a string,
// a repeated key to a []string
func QueryParams(values url.Values) map[string]any {
	params := make(map[string]any, len(values))
	for k, v := range values {
		switch len(v) {
		case 0:
			params[k] = ""
		case 1:
			params[k] = v[0]
		default:
			params[k] = append([]string(nil), v...)
		}
	}
	return params
}
