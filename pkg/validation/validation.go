// Package validation checks request payloads with go-playground/validator
// and reports failures per JSON field.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	httpURLPattern = regexp.MustCompile(`^https?://.+`)
)

// FieldError one failed rule on one field
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Errors is returned when a payload fails validation.
type Errors struct {
	Fields []FieldError
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Tag)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Details renders one localized message per field, keeping the first
// failure when a field breaks several rules.
func (e *Errors) Details(t func(key string, args ...any) string) map[string]string {
	out := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := out[f.Field]; ok {
			continue
		}
		out[f.Field] = describe(f, t)
	}
	return out
}

func describe(f FieldError, t func(key string, args ...any) string) string {
	switch f.Tag {
	case "required":
		return t("validation.required")
	case "min":
		return t("validation.min", f.Param)
	case "max":
		return t("validation.max", f.Param)
	case "slug":
		return t("validation.slug")
	case "httpurl":
		return t("validation.httpurl")
	case "email":
		return t("validation.email")
	case "oneof":
		return t("validation.oneof", strings.ReplaceAll(f.Param, " ", ", "))
	default:
		return t("validation.invalid")
	}
}

// Validator wraps a configured validator.Validate.
type Validator struct {
	v *validator.Validate
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// Default returns the process-wide validator.
func Default() *Validator {
	defaultOnce.Do(func() { defaultV = New() })
	return defaultV
}

// New builds a validator with the catalog rules registered and field
// names taken from json tags.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	// Registration only fails on an empty tag.
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return httpURLPattern.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Struct validates s, returning *Errors on rule failures.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Errors{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: fe.Field(),
			Tag:   fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// Engine exposes the underlying validator, e.g. for gin's binding.
func (v *Validator) Engine() *validator.Validate {
	return v.v
}
