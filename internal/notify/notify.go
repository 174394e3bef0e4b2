// Package notify resolves SMS recipients for a guardian and delivers text to
// each of them independently.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	familymodels "kinwatch/internal/family/models"
	"kinwatch/internal/geo"
	"kinwatch/internal/platform/logger"
)

// Sender delivers one text message to one phone number.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// Recipient is one SMS destination.
type Recipient struct {
	Name  string
	Phone string
}

// e164 is the international number format: a plus sign, a non-zero leading
// digit, then 7 to 14 more digits.
var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// ValidPhone reports whether phone is a syntactically valid E.164 number.
func ValidPhone(phone string) bool {
	return e164.MatchString(phone)
}

// Recipients returns the usable destinations on a guardian's record: the
// guardian's own phone and, when includeTrusted is set, every trusted contact.
// Malformed numbers are returned separately so callers can log them.
// Duplicate numbers are sent to once.
func Recipients(guardian *familymodels.Subject, includeTrusted bool) (valid, rejected []Recipient) {
	seen := make(map[string]struct{})
	add := func(r Recipient) {
		if !ValidPhone(r.Phone) {
			rejected = append(rejected, r)
			return
		}
		if _, dup := seen[r.Phone]; dup {
			return
		}
		seen[r.Phone] = struct{}{}
		valid = append(valid, r)
	}

	if guardian.ContactPhone != "" {
		add(Recipient{Name: guardian.Name, Phone: guardian.ContactPhone})
	}
	if includeTrusted {
		for _, c := range guardian.TrustedContacts {
			add(Recipient{Name: c.Name, Phone: c.Phone})
		}
	}
	return valid, rejected
}

// Result is the outcome of one send.
type Result struct {
	Recipient Recipient
	Err       error
}

// Deliver sends text to every recipient. A failed send never stops the
// remaining ones; inspect the results for per-recipient errors.
func Deliver(ctx context.Context, sender Sender, recipients []Recipient, text string) []Result {
	results := make([]Result, 0, len(recipients))
	for _, r := range recipients {
		results = append(results, Result{Recipient: r, Err: sender.Send(ctx, r.Phone, text)})
	}
	return results
}

// Outcome counts what one fan-out did.
type Outcome struct {
	Sent     int
	Failed   int
	Rejected int
}

// Fanout resolves the guardian's recipients and sends text to each of them.
// Malformed numbers and failed sends are logged per recipient and never stop
// the others.
func Fanout(ctx context.Context, sender Sender, log *slog.Logger, guardian *familymodels.Subject, includeTrusted bool, text string) Outcome {
	valid, rejected := Recipients(guardian, includeTrusted)
	for _, r := range rejected {
		log.WarnContext(ctx, "skipping malformed phone number",
			"guardian_id", guardian.ID.String(),
			"recipient", r.Name,
			"phone", logger.MaskPhone(r.Phone),
		)
	}

	out := Outcome{Rejected: len(rejected)}
	for _, res := range Deliver(ctx, sender, valid, text) {
		if res.Err != nil {
			out.Failed++
			log.WarnContext(ctx, "sms send failed",
				"guardian_id", guardian.ID.String(),
				"recipient", res.Recipient.Name,
				"phone", logger.MaskPhone(res.Recipient.Phone),
				"error", res.Err,
			)
			continue
		}
		out.Sent++
	}
	return out
}

// EmergencyText is the caregiver-facing panic message.
func EmergencyText(subjectName string, at geo.Point, message string) string {
	return fmt.Sprintf("EMERGENCY: %s needs help at (%.4f, %.4f). Message: %s",
		subjectName, at.Lat, at.Lon, message)
}
