package gate

import (
	"net/http"
	"strings"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// Reason explains a denial. It's meant for logs, not for clients.
	Reason string
}

// Allow returns an allowing Decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying Decision with the given reason.
func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Gate decides whether a request may reach a content tree. Implementations
// must be safe for concurrent use.
type Gate interface {
	Check(r *http.Request) Decision
}

// Func adapts a function to the Gate interface.
type Func func(r *http.Request) Decision

// Check implements the Gate interface.
func (f Func) Check(r *http.Request) Decision {
	return f(r)
}

// AllowAll allows every request.
var AllowAll Gate = Func(func(*http.Request) Decision { return Allow() })

// DenyAll returns a Gate that denies every request with the given reason.
func DenyAll(reason string) Gate {
	return Func(func(*http.Request) Decision { return Deny(reason) })
}

// AnyOf returns a Gate that allows a request if any of the gates allows it.
// Gates are checked in order, and the first one that allows the request wins.
// A denial carries the reasons of all gates. With no gates, every request is
// denied.
func AnyOf(gates ...Gate) Gate {
	if len(gates) == 0 {
		return DenyAll("no authorization method configured")
	}
	if len(gates) == 1 {
		return gates[0]
	}

	return Func(func(r *http.Request) Decision {
		reasons := make([]string, 0, len(gates))
		for _, g := range gates {
			d := g.Check(r)
			if d.Allowed {
				return d
			}
			reasons = append(reasons, d.Reason)
		}
		return Deny(strings.Join(reasons, "; "))
	})
}
