package transaction

import "github.com/ashendes/transactional-rest/internal/models"

// Normalize replaces every top level collection in messages by a plain
// slice, flattening the items that know how to flatten themselves.
//
// Only one level is unwrapped: a collection nested inside an item is kept
// as is.
func Normalize(messages models.Messages) models.Messages {
	if messages == nil {
		return nil
	}
	out := make(models.Messages, len(messages))
	for key, value := range messages {
		coll, ok := value.(models.Collection)
		if !ok {
			out[key] = value
			continue
		}
		items := coll.Items()
		plain := make([]any, len(items))
		for i, item := range items {
			if f, ok := item.(models.Flattener); ok {
				plain[i] = f.Flatten()
				continue
			}
			plain[i] = item
		}
		out[key] = plain
	}
	return out
}
