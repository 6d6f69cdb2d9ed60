package schema

// validation.go runs record-level checks once all values of a record have
// been parsed. Field errors carry the field name so callers can attach them
// to the right column; model-level errors leave Field empty.

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field name, empty for model-level errors
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found on a record.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

// ByField groups messages by field name. Model-level errors use "".
func (e ValidationErrors) ByField() map[string][]string {
	out := make(map[string][]string)
	for _, ve := range e {
		out[ve.Field] = append(out[ve.Field], ve.Message)
	}
	return out
}

// FullValidate checks required fields, enum membership and the model's own
// rules. Fields listed in exclude are skipped.
func FullValidate(rec *Record, exclude map[string]bool) ValidationErrors {
	var errs ValidationErrors

	for i := range rec.Model.Fields {
		f := &rec.Model.Fields[i]
		if exclude[f.Name] {
			continue
		}

		v := rec.Value(f.Name)
		if v == nil {
			if f.Required {
				errs = append(errs, ValidationError{Field: f.Name, Message: "required field is empty"})
			}
			continue
		}

		if f.Kind == KindScalar && f.Type == FieldEnum {
			s := Format(f, v)
			if !containsFold(f.EnumValues, s) {
				errs = append(errs, ValidationError{
					Field:   f.Name,
					Value:   s,
					Message: fmt.Sprintf("value must be one of: %s", strings.Join(f.EnumValues, ", ")),
				})
			}
		}
	}

	if len(errs) == 0 && rec.Model.Validate != nil {
		for _, ve := range rec.Model.Validate(rec) {
			if ve.Field != "" && exclude[ve.Field] {
				continue
			}
			errs = append(errs, ve)
		}
	}

	return errs
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
