package core

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// Method is the method of a stored resource. It is the HTTP verb, except for
// GET_BY_ID which denotes a GET on a single item.
type Method string

// all supported resource methods
const (
	MethodGet     Method = "GET"
	MethodGetByID Method = "GET_BY_ID"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
)

// UnmarshalJSON is a custom JSON unmarshaller. Method names are case-insensitive.
func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	method, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = method
	return nil
}

// ParseMethod parses a stored method name
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodGetByID, MethodPost, MethodPut, MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("%s is not a valid Method", s)
	}
}

// MethodFromRequest maps an HTTP verb to the stored resource method. PATCH is
// treated as PUT, a GET with an item identifier is GET_BY_ID.
func MethodFromRequest(httpMethod string, hasID bool) (Method, bool) {
	switch strings.ToUpper(httpMethod) {
	case http.MethodGet:
		if hasID {
			return MethodGetByID, true
		}
		return MethodGet, true
	case http.MethodPost:
		return MethodPost, true
	case http.MethodPut, http.MethodPatch:
		return MethodPut, true
	case http.MethodDelete:
		return MethodDelete, true
	}
	return "", false
}

// IsMutating returns true for methods whose payload is validated against the resource schema
func (m Method) IsMutating() bool {
	return m == MethodPost || m == MethodPut
}

// Trigger is the phase of a business logic hook
type Trigger string

// all supported hook triggers
const (
	TriggerPre  Trigger = "pre"
	TriggerPost Trigger = "post"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = Trigger(strings.ToLower(s))
	switch *t {
	case TriggerPre, TriggerPost:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Trigger", s)
	}
}

// Operation represents a record operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported record operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// Operation returns the record operation a resource method performs
func (m Method) Operation() Operation {
	switch m {
	case MethodGet:
		return OperationList
	case MethodGetByID:
		return OperationRead
	case MethodPost:
		return OperationCreate
	case MethodPut:
		return OperationUpdate
	default:
		return OperationDelete
	}
}

// CollectionName returns the name of the record collection for a project module.
// The name is deterministic and lower case.
func CollectionName(project, module string) string {
	return strings.ToLower(project + "_" + module)
}
