package transaction

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Violation is one validation failure attached to a request
type Violation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Flatten implements models.Flattener
func (v Violation) Flatten() map[string]any {
	out := map[string]any{"message": v.Message}
	if v.Field != "" {
		out["field"] = v.Field
	}
	if v.Code != "" {
		out["code"] = v.Code
	}
	return out
}

// ViolationList is the collection of violations of a request
type ViolationList []Violation

// Items implements models.Collection
func (l ViolationList) Items() []any {
	items := make([]any, len(l))
	for i, v := range l {
		items[i] = v
	}
	return items
}

// ViolationsFromError converts a binding error into violations. Validator
// errors yield one violation per failing field.
func ViolationsFromError(err error) ViolationList {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(ViolationList, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, Violation{
				Field:   fieldPath(fe.Namespace()),
				Message: fe.Error(),
				Code:    fe.Tag(),
			})
		}
		return out
	}
	return ViolationList{{Message: err.Error(), Code: "invalid_body"}}
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
