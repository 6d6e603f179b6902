package policy

import (
	"strings"

	"github.com/attaboy/checkout/internal/domain"
)

// UnknownOwnerKey is used when a paid intent carries no resolvable owner.
const UnknownOwnerKey = "unknown"

// Owner is the identity an entitlement is bound to at fulfillment time.
type Owner struct {
	UserID     string `json:"user_id,omitempty"`
	IdentityID string `json:"identity_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

// OwnerFromIntent reads owner hints from intent metadata.
func OwnerFromIntent(intent *domain.Intent) Owner {
	return Owner{
		UserID:     intent.Meta(domain.MetaOwnerUserID),
		IdentityID: intent.Meta(domain.MetaOwnerIdentityID),
		Email:      domain.NormalizeEmail(intent.Meta(domain.MetaEmail)),
	}
}

// Key resolves the ownerKey: authenticated user, then linked identity, then guest email.
// The key is frozen into the entitlement natural key once written.
func (o Owner) Key() string {
	switch {
	case strings.TrimSpace(o.UserID) != "":
		return "user:" + strings.TrimSpace(o.UserID)
	case strings.TrimSpace(o.IdentityID) != "":
		return "identity:" + strings.TrimSpace(o.IdentityID)
	case o.Email != "":
		return "email:" + o.Email
	}
	return UnknownOwnerKey
}

// IsGuest reports whether the purchase has no account attached.
func (o Owner) IsGuest() bool {
	return o.UserID == ""
}

// ReceiptRecipient is the dedupe discriminator for the receipt email: email first, then user id.
func (o Owner) ReceiptRecipient() string {
	if o.Email != "" {
		return o.Email
	}
	return o.UserID
}
