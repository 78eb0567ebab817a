package gateway

import (
	"strings"

	"github.com/nulzo/ollama-relay/internal/registry"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Identifier fields, in order of preference. "name" is the legacy field still
// sent by older clients to /api/show.
const (
	FieldModel = "model"
	FieldName  = "name"
)

// Target is a request resolved against the registry. It lives for a single
// request only.
type Target struct {
	Service string
	// Model is the backend-facing model name with the service prefix removed.
	Model string
	// Field is the body field the identifier was read from and rewritten in.
	Field string
	URL   string
	// Payload is the inbound body with only Field's value replaced.
	Payload []byte
}

// Resolve splits the identifier in body into service and model, looks the
// service up and builds the backend URL for the given endpoint suffix
// ("generate", "chat", "show").
//
// Errors are one of *InvalidRequestError, *MissingModelError,
// *InvalidFormatError, *UnknownServiceError or *RequestBuildError.
func Resolve(body []byte, suffix string, reg *registry.Registry) (Target, error) {
	if !gjson.ValidBytes(body) {
		return Target{}, &InvalidRequestError{Reason: "body is not valid JSON"}
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Target{}, &InvalidRequestError{Reason: "body must be a JSON object"}
	}

	field, identifier, err := identifierOf(root)
	if err != nil {
		return Target{}, err
	}

	service, model, ok := strings.Cut(identifier, "/")
	if !ok {
		return Target{}, &InvalidFormatError{Identifier: identifier, Reason: "missing service prefix"}
	}
	if model == "" {
		return Target{}, &InvalidFormatError{Identifier: identifier, Reason: "empty model name"}
	}

	backend, ok := reg.Lookup(service)
	if !ok {
		return Target{}, &UnknownServiceError{Service: service}
	}

	payload, err := sjson.SetBytes(body, field, model)
	if err != nil {
		return Target{}, &RequestBuildError{Err: err}
	}

	return Target{
		Service: service,
		Model:   model,
		Field:   field,
		URL:     backend.BaseURL + "/api/" + suffix,
		Payload: payload,
	}, nil
}

func identifierOf(root gjson.Result) (string, string, error) {
	for _, field := range []string{FieldModel, FieldName} {
		v := root.Get(field)
		if !v.Exists() || v.Type == gjson.Null {
			continue
		}
		if v.Type != gjson.String {
			return "", "", &InvalidFormatError{Identifier: v.Raw, Reason: field + " must be a string"}
		}
		if v.Str == "" {
			continue
		}
		return field, v.Str, nil
	}
	return "", "", &MissingModelError{}
}
