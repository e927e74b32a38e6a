// Package event defines the closed catalog of event types a subscription may
// register for. Free-form strings are rejected at subscription creation and
// at trigger time so a typo can never silently drop deliveries.
package event

import (
	"fmt"
	"sort"
)

type Type string

const (
	UserCreated      Type = "user.created"
	UserUpdated      Type = "user.updated"
	UserDeleted      Type = "user.deleted"
	OrgCreated       Type = "org.created"
	OrgUpdated       Type = "org.updated"
	TeamCreated      Type = "team.created"
	TeamMemberAdded  Type = "team.member.added"
	InvoiceCreated   Type = "billing.invoice.created"
	PaymentSucceeded Type = "payment.succeeded"
	PaymentFailed    Type = "payment.failed"
	FileUploaded     Type = "file.uploaded"
	FileDeleted      Type = "file.deleted"
)

var catalog = map[Type]struct{}{
	UserCreated:      {},
	UserUpdated:      {},
	UserDeleted:      {},
	OrgCreated:       {},
	OrgUpdated:       {},
	TeamCreated:      {},
	TeamMemberAdded:  {},
	InvoiceCreated:   {},
	PaymentSucceeded: {},
	PaymentFailed:    {},
	FileUploaded:     {},
	FileDeleted:      {},
}

// Valid reports whether t is a known event type.
func Valid(t string) bool {
	_, ok := catalog[Type(t)]
	return ok
}

// ValidateAll returns an error naming the first unknown type in ts.
func ValidateAll(ts []string) error {
	for _, t := range ts {
		if !Valid(t) {
			return fmt.Errorf("unknown event type %q", t)
		}
	}
	return nil
}

// All returns the catalog sorted, for API discovery and CLI help.
func All() []string {
	out := make([]string, 0, len(catalog))
	for t := range catalog {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}
