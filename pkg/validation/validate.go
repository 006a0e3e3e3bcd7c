package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"parley/pkg/models"
)

// Limits bounds caller-supplied draft fields. Zero values fall back to
// defaults at check time.
type Limits struct {
	MaxContentRunes    int
	MaxAttachmentBytes int64
	MaxNameLen         int
}

var limits = Limits{}

// SetLimits installs the process-wide draft limits. Called once at startup.
func SetLimits(l Limits) { limits = l }

func maxContent() int {
	if limits.MaxContentRunes > 0 {
		return limits.MaxContentRunes
	}
	return 4000
}

func maxAttachment() int64 {
	if limits.MaxAttachmentBytes > 0 {
		return limits.MaxAttachmentBytes
	}
	return 1 << 20
}

func maxName() int {
	if limits.MaxNameLen > 0 {
		return limits.MaxNameLen
	}
	return 255
}

// ValidateDraft rejects drafts before any store interaction: a draft must
// name a conversation and a valid sender, and carry text or an attachment.
func ValidateDraft(d models.Draft) error {
	var errs []string
	if strings.TrimSpace(d.Conversation) == "" {
		errs = append(errs, "conversation is required")
	}
	if !d.Sender.Valid() {
		errs = append(errs, fmt.Sprintf("unknown sender role %q", d.Sender))
	}
	if strings.TrimSpace(d.Content) == "" && d.Attachment == nil {
		errs = append(errs, "message needs text or an attachment")
	}
	if n := utf8.RuneCountInString(d.Content); n > maxContent() {
		errs = append(errs, fmt.Sprintf("content too long: %d > %d", n, maxContent()))
	}
	if a := d.Attachment; a != nil {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, "attachment name is required")
		} else if len(a.Name) > maxName() {
			errs = append(errs, fmt.Sprintf("attachment name too long: %d > %d", len(a.Name), maxName()))
		}
		if int64(len(a.Data)) > maxAttachment() {
			errs = append(errs, fmt.Sprintf("attachment too large: %d > %d bytes", len(a.Data), maxAttachment()))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
