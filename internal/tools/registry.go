// Package tools is the fixed catalog of operations the model may call.
// Every tool has a JSON schema, a typed argument struct checked with
// validator, and a handler that returns a status line for the model.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/servicedesk_bot/backend/internal/ai"
)

type Signal string

const (
	SignalNone Signal = ""
	// SignalBan asks the caller to ban the chat.
	SignalBan Signal = "ban"
)

// Result is what the model sees. Recoverable failures are Results too;
// only errors that must fail the turn are returned as Go errors.
type Result struct {
	Text   string
	Signal Signal
	Failed bool
}

func success(text string) Result { return Result{Text: text} }
func failure(text string) Result { return Result{Text: text, Failed: true} }

type Tool struct {
	Name        string
	Description string
	Parameters  func() map[string]any
	invoke      func(ctx context.Context, v *validator.Validate, chatID int64, raw json.RawMessage) (Result, error)
}

// Define builds a Tool whose arguments decode into A.
func Define[A any](name, description string, params func() map[string]any, fn func(ctx context.Context, chatID int64, args A) (Result, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		invoke: func(ctx context.Context, v *validator.Validate, chatID int64, raw json.RawMessage) (Result, error) {
			var args A
			if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				if err := json.Unmarshal(raw, &args); err != nil {
					return failure("Ошибка в аргументах " + name + ": " + err.Error()), nil
				}
			}
			if err := v.Struct(args); err != nil {
				var invalid *validator.InvalidValidationError
				if !errors.As(err, &invalid) {
					return failure("Ошибка в аргументах " + name + ": " + describeValidation(err)), nil
				}
			}
			return fn(ctx, chatID, args)
		},
	}
}

type Registry struct {
	tools     map[string]Tool
	order     []string
	validator *validator.Validate
}

func NewRegistry() *Registry {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Registry{tools: make(map[string]Tool), validator: v}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs describes every tool in registration order.
func (r *Registry) Specs() []ai.ToolSpec {
	out := make([]ai.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if t.Parameters != nil {
			params = t.Parameters()
		}
		out = append(out, ai.ToolSpec{Name: t.Name, Description: t.Description, Parameters: params})
	}
	return out
}

// Invoke runs a tool by name. Unknown names are reported to the model.
func (r *Registry) Invoke(ctx context.Context, chatID int64, name string, args json.RawMessage) (Result, error) {
	t, found := r.tools[name]
	if !found {
		return failure(fmt.Sprintf("Инструмент %q не существует. Доступные инструменты: %s", name, strings.Join(r.order, ", "))), nil
	}
	return t.invoke(ctx, r.validator, chatID, args)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			parts = append(parts, "поле "+field+" обязательно")
		case "min", "max", "gte", "lte":
			parts = append(parts, fmt.Sprintf("поле %s вне допустимого диапазона (%s=%s)", field, fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("поле %s не прошло проверку %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func object(required []string, props map[string]any) func() map[string]any {
	return func() map[string]any {
		return map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		}
	}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}
