package ai

import (
	"context"
	"errors"

	"github.com/christopherklint97/billr/internal/billing"
)

// ErrEmptyResponse is returned when the model produced no usable output.
var ErrEmptyResponse = errors.New("empty response from model")

// Provider is the AI collaborator. Implementations own prompting and
// transport; they never make billing decisions.
type Provider interface {
	// GroupEmails partitions emails into candidate billable events.
	// Output order is not meaningful.
	GroupEmails(ctx context.Context, req GroupRequest) ([]Group, error)
	// ClassifyEmail decides whether one email is billable.
	ClassifyEmail(ctx context.Context, req ClassifyRequest) (*Classification, error)
	// DraftPreview turns free text being composed into a billing preview.
	DraftPreview(ctx context.Context, req DraftRequest) (*billing.Preview, error)
}

type GroupRequest struct {
	Emails  []billing.Email
	Context billing.Context
}

type Group struct {
	EmailIDs []string
	Preview  billing.Preview
}

type ClassifyRequest struct {
	Email   billing.Email
	Context billing.Context
}

type ClassificationStatus string

const (
	Billable           ClassificationStatus = "BILLABLE"
	NotBillable        ClassificationStatus = "NOT_BILLABLE"
	DuplicateSuspected ClassificationStatus = "DUPLICATE_SUSPECTED"
)

// Classification is the single-email verdict. Preview is set only when
// Status is Billable; Reason is set otherwise.
type Classification struct {
	Status  ClassificationStatus
	Reason  string
	Preview *billing.Preview
}

type DraftRequest struct {
	Text    string
	Context billing.Context
}
