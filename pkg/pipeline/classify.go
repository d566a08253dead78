package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/txn2/adminsession/pkg/permission"
)

// Outcome is everything known about a finished call.
type Outcome struct {
	Request  *http.Request
	Response *http.Response

	// Body holds the response payload for failed calls.
	Body []byte

	// Err is the transport error when no response was received.
	Err error

	// Bearer is the credential that was attached to the request.
	Bearer string
}

// StatusCode returns the response status, or 0 without a response.
func (o Outcome) StatusCode() int {
	if o.Response == nil {
		return 0
	}
	return o.Response.StatusCode
}

// Classifier maps an outcome to a class when Match returns true.
type Classifier struct {
	Name  string
	Class Class
	Match func(Outcome) bool
}

// Chain is an ordered list of classifiers. The first match wins; an
// outcome nothing matches is Opaque.
type Chain struct {
	classifiers []Classifier
}

// NewChain creates a chain evaluating classifiers in order.
func NewChain(classifiers ...Classifier) *Chain {
	c := &Chain{classifiers: make([]Classifier, 0, len(classifiers))}
	c.classifiers = append(c.classifiers, classifiers...)
	return c
}

// DefaultChain returns the standard precedence: unreachable, then 401,
// then 403.
func DefaultChain() *Chain {
	return NewChain(DefaultClassifiers()...)
}

// Use appends a classifier with the lowest precedence.
func (c *Chain) Use(cl Classifier) {
	c.classifiers = append(c.classifiers, cl)
}

// Classifiers returns a copy of the ordered classifier list.
func (c *Chain) Classifiers() []Classifier {
	out := make([]Classifier, len(c.classifiers))
	copy(out, c.classifiers)
	return out
}

// Classify returns the class of the first matching classifier.
func (c *Chain) Classify(o Outcome) Class {
	for _, cl := range c.classifiers {
		if cl.Match(o) {
			return cl.Class
		}
	}
	return Opaque
}

// DefaultClassifiers returns the built-in classifiers in precedence order.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		{Name: "no-response", Class: Unreachable, Match: noResponse},
		{Name: "status-401", Class: Unauthenticated, Match: statusIs(http.StatusUnauthorized)},
		{Name: "status-403", Class: Forbidden, Match: statusIs(http.StatusForbidden)},
	}
}

// noResponse matches transport failures. A call the caller cancelled
// itself is not an outage.
func noResponse(o Outcome) bool {
	if o.Response != nil || o.Err == nil {
		return false
	}
	return !errors.Is(o.Err, context.Canceled)
}

func statusIs(code int) func(Outcome) bool {
	return func(o Outcome) bool {
		return o.Response != nil && o.Response.StatusCode == code
	}
}

// capabilityKeys are the body fields that may name the missing capability.
var capabilityKeys = []string{"requiredPermission", "required_permission", "permission"}

// Capability extracts the required capability from a forbidden response
// body, falling back to permission.UnknownCapability.
func Capability(body []byte) string {
	if len(body) == 0 {
		return permission.UnknownCapability
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return permission.UnknownCapability
	}
	for _, key := range capabilityKeys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return permission.UnknownCapability
}
