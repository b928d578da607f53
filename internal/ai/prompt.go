package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/christopherklint97/billr/internal/billing"
)

const maxBodyChars = 4000

type promptEmail struct {
	ID      string `json:"id"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func toPromptEmails(emails []billing.Email) []promptEmail {
	out := make([]promptEmail, 0, len(emails))
	for _, e := range emails {
		out = append(out, promptEmail{
			ID:      e.ID,
			From:    e.Sender,
			Subject: e.Subject,
			Body:    truncateStr(e.Body, maxBodyChars),
		})
	}
	return out
}

func contextSection(c billing.Context) string {
	var sb strings.Builder

	matters, _ := json.Marshal(c.Matters)
	fmt.Fprintf(&sb, "Available matters:\n%s\n", matters)

	if len(c.Corrections) > 0 {
		sb.WriteString("\nPast corrections by the attorney (learn from these):\n")
		for _, corr := range c.Corrections {
			fmt.Fprintf(&sb, "- suggested %q, corrected to %q\n", corr.Original, corr.Corrected)
		}
	}

	if len(c.External) > 0 {
		sb.WriteString("\nRecent entries already in the practice management system:\n")
		for _, e := range c.External {
			fmt.Fprintf(&sb, "- %s: %s (%.2fh)\n", e.Matter, e.Description, e.Hours)
		}
	}

	if len(c.Notes) > 0 {
		sb.WriteString("\nAdditional context:\n")
		for _, n := range c.Notes {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
	}
	return sb.String()
}

const billingGuidelines = `Billing guidelines:
- Bill in tenths of an hour (0.1h minimum) unless the work clearly took longer
- Use the exact matter name from the list; leave matter empty if none fits
- Write descriptions in past tense, suitable for a client invoice
- Set confidence between 0 and 1 for how certain you are the work is billable to that matter`

func buildGroupingSystemPrompt(c billing.Context) string {
	return fmt.Sprintf(`You are a legal billing assistant. You receive a batch of emails received by an attorney and
group together emails that belong to the same billable piece of work (for example a thread about one
contract review). Each group becomes one candidate time entry.

%s
%s
Rules:
- Every group lists the ids of the emails it covers
- Do not put the same email id in more than one group
- Omit emails that are clearly not billable (newsletters, marketing, personal)
- If nothing is billable return an empty groups array

Return valid JSON matching the required schema.`, contextSection(c), billingGuidelines)
}

func buildGroupingUserPrompt(emails []billing.Email) string {
	data, _ := json.Marshal(toPromptEmails(emails))
	return fmt.Sprintf("Emails:\n%s", data)
}

func buildClassifySystemPrompt(c billing.Context) string {
	return fmt.Sprintf(`You are a legal billing assistant. Decide whether the email below represents billable work
for the attorney who received it.

%s
%s
Status values:
- BILLABLE: include a preview of the time entry
- NOT_BILLABLE: include a short reason
- DUPLICATE_SUSPECTED: the work already appears in the recent entries; include a reason naming it

Return valid JSON matching the required schema.`, contextSection(c), billingGuidelines)
}

func buildClassifyUserPrompt(e billing.Email) string {
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", e.Sender, e.Subject, truncateStr(e.Body, maxBodyChars))
}

func buildDraftSystemPrompt(c billing.Context) string {
	return fmt.Sprintf(`You are a legal billing assistant. The attorney is writing a reply or new email. Estimate the
time entry that writing it represents.

%s
%s
Return valid JSON matching the required schema.`, contextSection(c), billingGuidelines)
}

func buildDraftUserPrompt(text string) string {
	return fmt.Sprintf("Draft being written:\n%s", truncateStr(text, maxBodyChars))
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
