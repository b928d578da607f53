// Package billing holds the domain types shared by the triage engine:
// emails, matters and their rules, AI previews and billable entries.
package billing

import (
	"errors"
	"strings"
	"time"
)

// ErrAlreadyBilled is returned when an email id is already referenced by
// a stored entry of the same owner.
var ErrAlreadyBilled = errors.New("email already billed")

// Email is an inbound message. It is never modified by the engine.
type Email struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Matter is a client matter with an hourly rate and an ordered rule list.
type Matter struct {
	Name  string        `json:"name" toml:"name"`
	Rate  float64       `json:"rate" toml:"rate"`
	Rules []BillingRule `json:"rules" toml:"rules"`
}

// FindMatter looks up a matter by name, ignoring case and surrounding space.
func FindMatter(matters []Matter, name string) (Matter, bool) {
	name = strings.TrimSpace(name)
	for _, m := range matters {
		if strings.EqualFold(strings.TrimSpace(m.Name), name) {
			return m, true
		}
	}
	return Matter{}, false
}

// MatterNames returns the names of the given matters in order.
func MatterNames(matters []Matter) []string {
	names := make([]string, 0, len(matters))
	for _, m := range matters {
		names = append(names, m.Name)
	}
	return names
}

type ConditionKind string

const (
	SenderDomainIs  ConditionKind = "SENDER_DOMAIN_IS"
	SubjectContains ConditionKind = "SUBJECT_CONTAINS"
	BodyContains    ConditionKind = "BODY_CONTAINS"
)

func (k ConditionKind) Valid() bool {
	switch k {
	case SenderDomainIs, SubjectContains, BodyContains:
		return true
	}
	return false
}

type ActionKind string

const (
	IgnoreSenderDomain ActionKind = "IGNORE_SENDER_DOMAIN"
	RoundUpHours       ActionKind = "ROUND_UP_HOURS"
	SetFixedHours      ActionKind = "SET_FIXED_HOURS"
	AutoApproveSync    ActionKind = "AUTO_APPROVE_SYNC"
)

func (k ActionKind) Valid() bool {
	switch k {
	case IgnoreSenderDomain, RoundUpHours, SetFixedHours, AutoApproveSync:
		return true
	}
	return false
}

type Condition struct {
	Kind  ConditionKind `json:"kind" toml:"kind"`
	Value string        `json:"value" toml:"value"`
}

// RuleAction is the effect of a matched rule. Amount is read by the
// numeric actions, Flag by AUTO_APPROVE_SYNC.
type RuleAction struct {
	Kind   ActionKind `json:"kind" toml:"kind"`
	Amount float64    `json:"amount,omitempty" toml:"amount,omitempty"`
	Flag   bool       `json:"flag,omitempty" toml:"flag,omitempty"`
}

// BillingRule matches when every condition holds for at least one
// source email.
type BillingRule struct {
	ID         string      `json:"id" toml:"id"`
	Conditions []Condition `json:"conditions" toml:"conditions"`
	Action     RuleAction  `json:"action" toml:"action"`
}

// Preview is the structured candidate produced by the AI collaborator.
// Optional numeric fields are pointers so absence is distinguishable from zero.
type Preview struct {
	Description             string         `json:"description"`
	Matter                  string         `json:"matter"`
	Hours                   *float64       `json:"hours,omitempty"`
	ActionItems             []string       `json:"action_items,omitempty"`
	Breakdown               string         `json:"breakdown,omitempty"`
	ConfidenceScore         *float64       `json:"confidence_score,omitempty"`
	ConfidenceJustification string         `json:"confidence_justification,omitempty"`
	Justification           *Justification `json:"justification,omitempty"`
}

// Justification is the free-text reasoning attached to a preview. The
// rule engine fills RuleApplied when a rule changed the outcome.
type Justification struct {
	Summary     string `json:"summary,omitempty"`
	RuleApplied string `json:"rule_applied,omitempty"`
}

// Clone returns a deep copy so rule application never aliases the input.
func (p Preview) Clone() Preview {
	out := p
	if p.Hours != nil {
		h := *p.Hours
		out.Hours = &h
	}
	if p.ConfidenceScore != nil {
		c := *p.ConfidenceScore
		out.ConfidenceScore = &c
	}
	if p.ActionItems != nil {
		out.ActionItems = append([]string(nil), p.ActionItems...)
	}
	if p.Justification != nil {
		j := *p.Justification
		out.Justification = &j
	}
	return out
}

// HoursOrZero returns the suggested hours, or 0 when none was given.
func (p Preview) HoursOrZero() float64 {
	if p.Hours == nil {
		return 0
	}
	return *p.Hours
}

// Float returns a pointer to v, for building previews.
func Float(v float64) *float64 { return &v }

// Decision is the routing outcome for a candidate entry.
type Decision string

const (
	DecisionStandard Decision = "STANDARD"
	DecisionAutoSync Decision = "AUTO_SYNC"
	DecisionIgnore   Decision = "IGNORE"
)

type EntryStatus string

const (
	StatusDraft      EntryStatus = "draft"
	StatusPending    EntryStatus = "pending"
	StatusSynced     EntryStatus = "synced"
	StatusError      EntryStatus = "error"
	StatusGenerating EntryStatus = "generating"
)

// SyncDetail records the outcome of the last push to the external system.
type SyncDetail struct {
	SyncedAt   time.Time `json:"synced_at,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Entry is a stored billable entry.
type Entry struct {
	ID            string      `json:"id"`
	OwnerID       string      `json:"owner_id"`
	EmailIDs      []string    `json:"email_ids,omitempty"`
	Description   string      `json:"description"`
	Hours         float64     `json:"hours"`
	Matter        string      `json:"matter"`
	Rate          float64     `json:"rate"`
	Status        EntryStatus `json:"status"`
	AutoGenerated bool        `json:"auto_generated"`
	Archived      bool        `json:"archived"`
	Sync          SyncDetail  `json:"sync"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Amount is the billed value of the entry.
func (e Entry) Amount() float64 {
	return e.Hours * e.Rate
}

// NewEntry is the data needed to create an entry from a preview.
type NewEntry struct {
	EmailIDs    []string
	Description string
	Hours       float64
	Matter      string
	Status      EntryStatus
}

// EntryFromPreview builds creation data from a (possibly rule-modified) preview.
func EntryFromPreview(emailIDs []string, p Preview, status EntryStatus) NewEntry {
	return NewEntry{
		EmailIDs:    append([]string(nil), emailIDs...),
		Description: p.Description,
		Hours:       p.HoursOrZero(),
		Matter:      p.Matter,
		Status:      status,
	}
}

// Suggestion is a candidate entry that has not been committed to storage.
type Suggestion struct {
	ID       string   `json:"id"`
	EmailIDs []string `json:"email_ids"`
	Emails   []Email  `json:"emails"`
	Preview  Preview  `json:"preview"`
}

// Correction pairs an AI suggestion with the user's edit of it. Recent
// corrections are passed back to the AI as examples.
type Correction struct {
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
	CreatedAt time.Time `json:"created_at"`
}

// ExternalEntry is a recent entry already present in the practice
// management system, given to the AI as context.
type ExternalEntry struct {
	Matter      string  `json:"matter"`
	Description string  `json:"description"`
	Hours       float64 `json:"hours"`
}

// Context bundles everything the AI collaborator receives besides the emails.
type Context struct {
	Matters     []string
	Corrections []Correction
	External    []ExternalEntry
	Notes       []string
}
