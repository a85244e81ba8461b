package validator

import (
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Validator combines struct tag validation with the workflow-specific
// checks that need more than one field.
type Validator struct {
	structValidator     *validator.Validate
	annotationValidator *AnnotationValidator
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	// Register all custom validators once
	registerCustomValidators(structValidator)

	return &Validator{
		structValidator:     structValidator,
		annotationValidator: NewAnnotationValidator(),
	}
}

// ValidateStruct validates struct tags only and reports failures as
// ValidationErrors.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}
	if errs := ToValidationErrors(err); len(errs) > 0 {
		return errs
	}
	return err
}

// Annotation returns the geometry, score and payload validator
func (v *Validator) Annotation() *AnnotationValidator {
	return v.annotationValidator
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("annotation_type", validateAnnotationType)
	validate.RegisterValidation("actor_id", validateActorID)
	validate.RegisterValidation("page_ref", validatePageRef)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

var annotationTypePattern = regexp.MustCompile(`^[a-z][a-z_]{0,31}$`)

// Annotation kinds are an open set; only the shape is enforced.
func validateAnnotationType(fl validator.FieldLevel) bool {
	return annotationTypePattern.MatchString(fl.Field().String())
}

func validateActorID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || len(value) > 64 {
		return false
	}
	return strings.IndexFunc(value, unicode.IsSpace) < 0
}

func validatePageRef(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
