package validator

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Validator wraps the validator engine together with an English translator,
// so failures can be reported as readable field messages.
type Validator struct {
	engine *validator.Validate
	trans  ut.Translator
}

// New configures a validator that names fields by their mapstructure tag.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	locale := en.New()
	uni := ut.New(locale, locale)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	return &Validator{engine: v, trans: trans}
}

// Struct validates s and returns nil or a *FieldErrors.
func (v *Validator) Struct(s any) error {
	if err := v.engine.Struct(s); err != nil {
		return v.parse(err)
	}
	return nil
}

// Var validates a single value against a tag expression such as "required,url".
func (v *Validator) Var(field any, tag string) error {
	if err := v.engine.Var(field, tag); err != nil {
		return v.parse(err)
	}
	return nil
}

// FieldErrors maps a dotted field path onto its translated message.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e[k]))
	}
	return strings.Join(parts, "; ")
}

// parse converts raw validator errors into a FieldErrors map.
// Nested errors keep their hierarchical name minus the root struct.
func (v *Validator) parse(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	errMap := make(FieldErrors, len(validationErrors))
	for _, e := range validationErrors {
		ns := e.Namespace()
		if i := strings.Index(ns, "."); i != -1 {
			ns = ns[i+1:]
		}
		if ns == "" {
			ns = "value"
		}

		msg := e.Translate(v.trans)
		if e.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(e.Param(), " ", ", "))
		}

		errMap[ns] = msg
	}
	return errMap
}
