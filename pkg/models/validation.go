package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/template"
	"github.com/go-playground/validator/v10"
)

var ErrInvalidWorkflow = errors.New("invalid workflow")

var (
	identifierPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)
	webhookPathPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*(/[A-Za-z0-9_\-]+)*$`)
)

// Placeholder roots available to action configuration.
const (
	RootTrigger   = "trigger"
	RootSteps     = "steps"
	RootConstants = "constants"
	RootWorkflow  = "workflow"
	RootRun       = "run"
)

// IsIdentifier reports whether name is safe to use as a SQL table or column name.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// NewValidator returns a validator that understands the workflow configuration tags.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return IsIdentifier(fl.Field().String())
	})

	_ = validate.RegisterValidation("webhookpath", func(fl validator.FieldLevel) bool {
		return webhookPathPattern.MatchString(fl.Field().String())
	})

	_ = validate.RegisterValidation("tmplurl", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if template.HasPlaceholder(value) {
			return true
		}

		return validate.Var(value, "url") == nil
	})

	_ = validate.RegisterValidation("tmplemails", func(fl validator.FieldLevel) bool {
		for _, address := range strings.Split(fl.Field().String(), ",") {
			address = strings.TrimSpace(address)
			if template.HasPlaceholder(address) {
				continue
			}

			if validate.Var(address, "required,email") != nil {
				return false
			}
		}

		return true
	})

	return validate
}

// Validate checks the workflow at save time: field constraints, per-kind rules,
// and that every placeholder can be satisfied when the step runs.
// Call ApplyDefaults first.
func (w *Workflow) Validate(validate *validator.Validate) error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	if err := w.validateTrigger(validate); err != nil {
		return fmt.Errorf("%w: trigger: %w", ErrInvalidWorkflow, err)
	}

	names := make(map[string]int, len(w.Actions))

	for i := range w.Actions {
		action := &w.Actions[i]

		if err := validateAction(validate, action); err != nil {
			return fmt.Errorf("%w: actions[%d]: %w", ErrInvalidWorkflow, i, err)
		}

		if err := w.validateReferences(i, names); err != nil {
			return fmt.Errorf("%w: actions[%d]: %w", ErrInvalidWorkflow, i, err)
		}

		if action.Name != "" {
			if _, exists := names[action.Name]; exists {
				return fmt.Errorf("%w: actions[%d]: duplicate action name %q", ErrInvalidWorkflow, i, action.Name)
			}

			names[action.Name] = i
		}
	}

	return nil
}

func (w *Workflow) validateTrigger(validate *validator.Validate) error {
	if w.Trigger.Config == nil {
		return errors.New("trigger is required")
	}

	if w.Trigger.Kind != w.Trigger.Config.TriggerKind() {
		return fmt.Errorf("kind %q does not match config", w.Trigger.Kind)
	}

	if err := validate.Struct(w.Trigger.Config); err != nil {
		return err
	}

	switch config := w.Trigger.Config.(type) {
	case *ScheduleConfig:
		if _, err := config.Compile(); err != nil {
			return err
		}
	case *WebhookConfig:
		return config.validate()
	case *DatabaseChangeConfig:
		return config.validate()
	}

	return nil
}

func validateAction(validate *validator.Validate, action *Action) error {
	if action.Config == nil {
		return errors.New("config is required")
	}

	if action.Kind != action.Config.ActionKind() {
		return fmt.Errorf("kind %q does not match config", action.Kind)
	}

	if action.Name != "" && !IsIdentifier(action.Name) {
		return fmt.Errorf("name %q must be an identifier", action.Name)
	}

	if action.TimeoutSeconds < 0 || action.TimeoutSeconds > 3600 {
		return errors.New("timeoutSeconds must be between 0 and 3600")
	}

	if err := validate.Struct(action.Retry()); err != nil {
		return fmt.Errorf("retryPolicy: %w", err)
	}

	if err := validate.Struct(action.Config); err != nil {
		return err
	}

	switch config := action.Config.(type) {
	case *EmailConfig:
		return config.validate()
	case *DatabaseOpConfig:
		return config.validate()
	case *CreateRecordConfig:
		return config.validate()
	}

	return nil
}

// validateReferences rejects placeholders that could never resolve for step i:
// unknown roots, references to the current or later steps, and missing constants.
func (w *Workflow) validateReferences(i int, earlierNames map[string]int) error {
	config, err := ConfigMap(w.Actions[i].Config)
	if err != nil {
		return err
	}

	var problems []string

	template.Walk(config, func(s string) {
		for _, path := range template.Placeholders(s) {
			if err := w.checkReference(i, path, earlierNames); err != nil {
				problems = append(problems, err.Error())
			}
		}
	})

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

func (w *Workflow) checkReference(i int, path string, earlierNames map[string]int) error {
	segments := template.Segments(path)

	switch segments[0] {
	case RootTrigger, RootWorkflow, RootRun:
		return nil
	case RootConstants:
		if len(segments) < 2 {
			return fmt.Errorf("{{%s}} must name a constant", path)
		}

		if _, ok := w.Constants[segments[1]]; !ok {
			return fmt.Errorf("{{%s}} refers to undefined constant %q", path, segments[1])
		}

		return nil
	case RootSteps:
		if len(segments) < 2 {
			return fmt.Errorf("{{%s}} must name a step", path)
		}

		if index, err := strconv.Atoi(segments[1]); err == nil {
			if index >= i {
				return fmt.Errorf("{{%s}} refers to step %d which has not run before step %d", path, index, i)
			}

			return nil
		}

		if _, ok := earlierNames[segments[1]]; !ok {
			return fmt.Errorf("{{%s}} refers to no earlier step named %q", path, segments[1])
		}

		return nil
	default:
		return fmt.Errorf("{{%s}} has unknown root %q", path, segments[0])
	}
}

// ConfigMap renders an action configuration as a generic JSON object.
func ConfigMap(config ActionConfig) (map[string]any, error) {
	encoded, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// DecodeConfig rebuilds a typed action configuration from a generic JSON object.
func DecodeConfig(kind ActionKind, values map[string]any) (ActionConfig, error) {
	config, err := NewActionConfig(kind)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(encoded, config); err != nil {
		return nil, err
	}

	return config, nil
}
