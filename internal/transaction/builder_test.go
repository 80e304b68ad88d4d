package transaction

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashendes/transactional-rest/internal/models"
)

func TestBuilderBuild(t *testing.T) {
	id := "42"
	b := NewBuilder().
		SetRequestMethod("POST").
		SetRequestSource(models.SourceREST).
		SetRelatedRoute("get_order").
		SetRelatedIDs(map[string]*string{"orderId": &id}).
		SetPostContent(map[string]any{"status": "cancelled"}).
		SetQueryParams(map[string]any{"dry_run": "1"}).
		SetModel(models.ModelOrder)

	tx := b.Build()
	require.NotEmpty(t, tx.ID)
	assert.Equal(t, "POST", tx.RequestMethod)
	assert.Equal(t, models.SourceREST, tx.RequestSource)
	assert.Equal(t, "get_order", tx.RelatedRoute)
	assert.Equal(t, "42", *tx.RelatedIDs["orderId"])
	assert.Equal(t, map[string]any{"status": "cancelled"}, tx.PostContent)
	assert.Equal(t, "1", tx.QueryParams["dry_run"])
	assert.Equal(t, models.ModelOrder, tx.Model)
	assert.False(t, tx.CreatedAt.IsZero())
	assert.False(t, tx.IsSealed())

	other := b.Build()
	assert.NotEqual(t, tx.ID, other.ID)
}

func TestBuilderCopiesMaps(t *testing.T) {
	ids := map[string]*string{"orderId": nil}
	tx := NewBuilder().SetRelatedIDs(ids).Build()

	ids["leak"] = nil
	assert.NotContains(t, tx.RelatedIDs, "leak")
	assert.Contains(t, tx.RelatedIDs, "orderId")
	assert.Nil(t, tx.RelatedIDs["orderId"])
}

func TestDecodeBody(t *testing.T) {
	assert.Nil(t, DecodeBody(nil))
	assert.Nil(t, DecodeBody([]byte("{not json")))
	assert.Equal(t, map[string]any{"a": float64(1)}, DecodeBody([]byte(`{"a":1}`)))
	assert.Equal(t, []any{"x"}, DecodeBody([]byte(`["x"]`)))
}

func TestQueryParams(t *testing.T) {
	params := QueryParams(url.Values{"one": {"1"}, "many": {"a", "b"}, "none": {}})
	assert.Equal(t, "1", params["one"])
	assert.Equal(t, []string{"a", "b"}, params["many"])
	assert.Equal(t, "", params["none"])
}

func TestUpdateResponseTime(t *testing.T) {
	tx := NewBuilder().Build()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, Updater{}.UpdateResponseTime(tx, start, start.Add(250*time.Millisecond)))
	assert.Equal(t, 250*time.Millisecond, tx.ResponseTime)
	assert.Equal(t, start.Add(250*time.Millisecond), tx.UpdatedAt)

	require.NoError(t, Updater{}.UpdateResponseTime(tx, start, start.Add(-time.Second)))
	assert.Zero(t, tx.ResponseTime)
}
