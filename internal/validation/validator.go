// Package validation checks detector configurations against their allowed
// ranges before a detector is started or reconfigured. It wraps a singleton
// go-playground validator that reports fields by their yaml key and knows two
// custom rules:
//
//	punishaction  the action is one of kick, ban, mute, add_role, softban
//	raidaction    the action is not add_role
//
// A pattern config is also rejected when its minimum_score is above what the
// enabled checks can add up to.
//
// Failures are returned as *Error, which matches models.ErrConfigurationRejected
// under errors.Is, and additionally models.ErrUnsupportedAction when an action
// is not allowed for the detector.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/risk"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Value   any
	Message string
}

type Error struct {
	Detector models.DetectorType
	Fields   []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %s", e.Detector, models.ErrConfigurationRejected)
	}
	messages := make([]string, len(e.Fields))
	for i, field := range e.Fields {
		messages[i] = field.Message
	}
	return fmt.Sprintf("%s: %s: %s", e.Detector, models.ErrConfigurationRejected, strings.Join(messages, "; "))
}

func (e *Error) Is(target error) bool {
	switch target {
	case models.ErrConfigurationRejected:
		return true
	case models.ErrUnsupportedAction:
		for _, field := range e.Fields {
			if field.Tag == "raidaction" {
				return true
			}
		}
	}
	return false
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		_ = validate.RegisterValidation("punishaction", func(fl validator.FieldLevel) bool {
			return models.ActionKind(fl.Field().Uint()).Valid()
		})
		_ = validate.RegisterValidation("raidaction", func(fl validator.FieldLevel) bool {
			return models.ActionKind(fl.Field().Uint()) != models.ActionAddRole
		})
	})
	return validate
}

// Config validates cfg and returns nil or an *Error.
func Config(cfg models.DetectorConfig) error {
	if cfg == nil || reflect.ValueOf(cfg).IsNil() {
		return &Error{Fields: []FieldError{{Field: "config", Tag: "required", Message: "config is required"}}}
	}
	result := &Error{Detector: cfg.DetectorType()}

	err := Validator().Struct(cfg)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			result.Fields = append(result.Fields, FieldError{Field: "config", Tag: "unknown", Message: err.Error()})
			return result
		}
		for _, fe := range fieldErrs {
			result.Fields = append(result.Fields, FieldError{
				Field:   fe.Field(),
				Tag:     fe.Tag(),
				Param:   fe.Param(),
				Value:   fe.Value(),
				Message: translate(fe),
			})
		}
	}

	action := cfg.Punishment()
	if action.Kind == models.ActionAddRole && action.RoleID == "" {
		result.Fields = append(result.Fields, FieldError{
			Field:   "role_id",
			Tag:     "required_with_add_role",
			Message: "role_id is required when action is add_role",
		})
	}

	if pattern, ok := cfg.(*models.PatternConfig); ok && len(result.Fields) == 0 {
		reachable := risk.NewEvaluator(nil).MaxScore(risk.PatternChecks(pattern))
		if pattern.MinimumScore > reachable {
			result.Fields = append(result.Fields, FieldError{
				Field:   "minimum_score",
				Tag:     "reachable",
				Param:   strconv.Itoa(reachable),
				Value:   pattern.MinimumScore,
				Message: fmt.Sprintf("minimum_score %d is above %d, the highest score the enabled checks can reach", pattern.MinimumScore, reachable),
			})
		}
	}

	if len(result.Fields) == 0 {
		return nil
	}
	return result
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "punishaction":
		return fmt.Sprintf("%s must be one of kick, ban, mute, add_role, softban", field)
	case "raidaction":
		return fmt.Sprintf("%s %s is not supported for %s", field, models.ActionAddRole, models.AntiRaid)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
