package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Nzyazin/ledger/internal/core/models"
	"github.com/go-playground/validator/v10"
)

// requestValidator checks request bodies and reports failures as
// models.ErrValidation using the JSON field names.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Struct(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, fieldMessage(e))
	}
	return models.ValidationError("%s", strings.Join(msgs, "; "))
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Field(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field(), e.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a uuid", e.Field())
	}
	return fmt.Sprintf("%s failed %q validation", e.Field(), e.Tag())
}
