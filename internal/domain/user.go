// Package domain contains core domain types for the bouncer service.
package domain

import (
	"strings"
	"time"
)

// User represents an anonymous visitor, optionally bound to a wallet.
type User struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasWallet returns true if the user has bound a wallet address.
func (u *User) HasWallet() bool {
	return strings.TrimSpace(u.WalletAddress) != ""
}
