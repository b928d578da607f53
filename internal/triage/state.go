// Package triage drives the single-email triage flow: classify the
// selected email, route a billable verdict through the rules and
// decision resolver, and report one of a closed set of states.
package triage

import "github.com/christopherklint97/billr/internal/billing"

// State is one of Analyzing, Billable, NotBillable, DuplicateSuspected
// or AutoProcessed. Consumers switch on the concrete type.
type State interface {
	Name() string
	triageState()
}

// Analyzing is reported while the classifier call is running.
type Analyzing struct {
	Email billing.Email
}

// Billable holds an editable draft awaiting user approval.
type Billable struct {
	Email   billing.Email
	Preview billing.Preview
	// Justification is the rule engine's note, empty when no rule fired.
	Justification string
	// Overridden is set when the user forced a billable form over a
	// negative verdict.
	Overridden bool
}

type NotBillable struct {
	Email  billing.Email
	Reason string
}

type DuplicateSuspected struct {
	Email  billing.Email
	Reason string
}

// AutoProcessed is terminal: the entry was created and submitted.
// Next is the following eligible email, if any.
type AutoProcessed struct {
	Email billing.Email
	Entry billing.Entry
	Next  *billing.Email
}

func (Analyzing) Name() string          { return "ANALYZING" }
func (Billable) Name() string           { return "BILLABLE" }
func (NotBillable) Name() string        { return "NOT_BILLABLE" }
func (DuplicateSuspected) Name() string { return "DUPLICATE_SUSPECTED" }
func (AutoProcessed) Name() string      { return "AUTO_PROCESSED" }

func (Analyzing) triageState()          {}
func (Billable) triageState()           {}
func (NotBillable) triageState()        {}
func (DuplicateSuspected) triageState() {}
func (AutoProcessed) triageState()      {}

// Terminal reports whether no further user action applies.
func Terminal(s State) bool {
	_, ok := s.(AutoProcessed)
	return ok
}

// CanOverride reports whether the user may force a billable form.
func CanOverride(s State) bool {
	switch s.(type) {
	case NotBillable, DuplicateSuspected:
		return true
	}
	return false
}
