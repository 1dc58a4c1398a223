package federation

import (
	"net/url"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/domain"
)

// CreateInviteInput names the record to share and who shares it.
type CreateInviteInput struct {
	Actor      string
	Collection string
	RecordID   string
}

// Validate validates the create invite input.
func (i CreateInviteInput) Validate() error {
	var errs []domain.FieldError

	if i.Collection == "" {
		errs = append(errs, domain.FieldError{Field: "collection", Message: "required"})
	}
	if i.RecordID == "" {
		errs = append(errs, domain.FieldError{Field: "record_id", Message: "required"})
	}
	if len(i.Actor) > 256 {
		errs = append(errs, domain.FieldError{Field: "actor", Message: "too long"})
	}

	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// AcceptInviteInput holds an invite link received from another server.
type AcceptInviteInput struct {
	Actor     string
	InviteURL string
}

// invitePath is where invites are served, below the server's base URL.
const invitePath = "/api/invite/"

// parsedInvite is an invite link split into its parts.
type parsedInvite struct {
	baseURL  string
	inviteID string
	secret   string
}

// parse validates the invite link and splits it.
func (i AcceptInviteInput) parse() (parsedInvite, error) {
	raw := strings.TrimSpace(i.InviteURL)
	if raw == "" {
		return parsedInvite{}, domain.NewValidationError("invite_url", "required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return parsedInvite{}, domain.NewValidationError("invite_url", "malformed url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return parsedInvite{}, domain.NewValidationError("invite_url", "must be an absolute http(s) url")
	}

	prefix, id, ok := strings.Cut(u.Path, invitePath)
	if !ok || id == "" || strings.Contains(id, "/") {
		return parsedInvite{}, domain.NewValidationError("invite_url", "not an invite link")
	}
	sec := u.Query().Get("sec")
	if sec == "" {
		return parsedInvite{}, domain.NewValidationError("invite_url", "missing secret")
	}

	return parsedInvite{
		baseURL:  u.Scheme + "://" + u.Host + prefix,
		inviteID: id,
		secret:   sec,
	}, nil
}

// InviteLink builds the path of an invite relative to the server base URL.
func InviteLink(inviteID, secret string) string {
	return invitePath + url.PathEscape(inviteID) + "?sec=" + url.QueryEscape(secret)
}
