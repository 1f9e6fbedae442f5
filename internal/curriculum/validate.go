package curriculum

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

const answerInOptionsTag = "answer_in_options"

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// FieldError describes a problem with a single field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when input is rejected locally, before any
// request reaches the chapter service.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

// NewValidationError creates a ValidationError with optional field details.
func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Error
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator returns the shared validator instance. Field names in errors use
// the json tag names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		v.RegisterStructValidation(questionStructValidation, Question{})
		validate = v
	})
	return validate
}

// questionStructValidation enforces that the correct answer is one of the options.
func questionStructValidation(sl validator.StructLevel) {
	q := sl.Current().Interface().(Question)
	if q.CorrectAnswer == "" {
		return
	}
	if !q.HasOption(q.CorrectAnswer) {
		sl.ReportError(q.CorrectAnswer, "correctAnswer", "CorrectAnswer", answerInOptionsTag, "")
	}
}

// ValidateQuestion checks a single question at creation time.
func ValidateQuestion(q Question) error {
	return Check(q)
}

// ValidateChapter checks a chapter and all of its content and questions.
func ValidateChapter(c Chapter) error {
	return Check(c)
}

// Check validates any struct carrying validate tags and converts the result
// into a ValidationError.
func Check(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating: %w", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field: fieldPath(fe.Namespace()),
			Error: fieldMessage(fe),
		})
	}
	return NewValidationError(errors.New("invalid input"), fields...)
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "len":
		return fmt.Sprintf("must contain exactly %s items", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "min":
		return fmt.Sprintf("must contain at least %s items", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case answerInOptionsTag:
		return "correct answer must be one of the options"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
