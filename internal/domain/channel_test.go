package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateSubscriptionTerms(t *testing.T) {
	price := decimal.RequireFromString("9.99")
	zero := decimal.Zero
	negative := decimal.RequireFromString("-1")

	tests := []struct {
		name    string
		tier    SubscriptionType
		price   *decimal.Decimal
		wantErr bool
	}{
		{"free without price", SubscriptionFree, nil, false},
		{"free with price", SubscriptionFree, &price, true},
		{"paid with price", SubscriptionPaid, &price, false},
		{"paid without price", SubscriptionPaid, nil, true},
		{"paid with zero price", SubscriptionPaid, &zero, true},
		{"paid with negative price", SubscriptionPaid, &negative, true},
		{"unknown tier", SubscriptionType("trial"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubscriptionTerms(tt.tier, tt.price)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSubscriptionTerms)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChannel_DisplayName(t *testing.T) {
	assert.Equal(t, "Signals", (&Channel{ID: "-100", Title: "Signals", Username: "sig"}).DisplayName())
	assert.Equal(t, "@sig", (&Channel{ID: "-100", Username: "sig"}).DisplayName())
	assert.Equal(t, "-100", (&Channel{ID: "-100"}).DisplayName())
}

func TestRole_HasPermission(t *testing.T) {
	assert.True(t, RoleAdmin.HasPermission(RoleUser))
	assert.True(t, RoleAdmin.HasPermission(RoleAdmin))
	assert.True(t, RoleUser.HasPermission(RoleUser))
	assert.False(t, RoleUser.HasPermission(RoleAdmin))
}

func TestUser_IsAdmin(t *testing.T) {
	assert.True(t, (&User{Role: RoleAdmin}).IsAdmin())
	assert.False(t, (&User{Role: RoleAdmin, Blocked: true}).IsAdmin())
	assert.False(t, (&User{Role: RoleUser}).IsAdmin())
}
