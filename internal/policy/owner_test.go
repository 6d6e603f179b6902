package policy

import (
	"testing"

	"github.com/attaboy/checkout/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestOwnerKey_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		owner Owner
		want  string
	}{
		{"user wins", Owner{UserID: "u1", IdentityID: "i1", Email: "a@b.co"}, "user:u1"},
		{"identity before email", Owner{IdentityID: "i1", Email: "a@b.co"}, "identity:i1"},
		{"guest email", Owner{Email: "a@b.co"}, "email:a@b.co"},
		{"nothing", Owner{}, UnknownOwnerKey},
		{"whitespace user ignored", Owner{UserID: "  ", Email: "a@b.co"}, "email:a@b.co"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.owner.Key())
		})
	}
}

func TestOwnerFromIntent_NormalizesEmail(t *testing.T) {
	intent := &domain.Intent{ID: "pi_1", Metadata: map[string]string{
		domain.MetaEmail: "  Buyer@Example.COM ",
	}}
	owner := OwnerFromIntent(intent)
	assert.Equal(t, "buyer@example.com", owner.Email)
	assert.True(t, owner.IsGuest())
	assert.Equal(t, "email:buyer@example.com", owner.Key())
	assert.Equal(t, "buyer@example.com", owner.ReceiptRecipient())
}

func TestOwnerFromIntent_InvalidEmailDropped(t *testing.T) {
	intent := &domain.Intent{ID: "pi_1", Metadata: map[string]string{
		domain.MetaOwnerUserID: "u-9",
		domain.MetaEmail:       "not-an-email",
	}}
	owner := OwnerFromIntent(intent)
	assert.Empty(t, owner.Email)
	assert.Equal(t, "u-9", owner.ReceiptRecipient())
}
