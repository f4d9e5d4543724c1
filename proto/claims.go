package proto

import (
	"strings"
)

// Claims are the OIDC claims for a wallet account. They are a pure
// function of the account id: there is no profile store to look up, the
// address is the profile.
type Claims struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// DeriveClaims computes the claim set for an account id. The account id
// is expected to be a lowercase 0x-prefixed address, but the derivation
// tolerates any non-empty string.
func DeriveClaims(accountID string, emailDomain string) Claims {
	sub := accountID
	lower := strings.ToLower(sub)
	return Claims{
		Sub:               sub,
		Email:             lower + "@" + emailDomain,
		EmailVerified:     true,
		PreferredUsername: "user_" + suffix(sub, 6),
		Name:              "User " + prefix(sub, 6) + "..." + suffix(sub, 4),
	}
}

// ForScopes filters the claim set down to the claims the given scopes
// are entitled to: openid -> sub, email -> email + email_verified,
// profile -> preferred_username + name.
func (c Claims) ForScopes(scopes []string) map[string]any {
	out := map[string]any{}
	for _, scope := range scopes {
		switch scope {
		case "openid":
			out["sub"] = c.Sub
		case "email":
			out["email"] = c.Email
			out["email_verified"] = c.EmailVerified
		case "profile":
			out["preferred_username"] = c.PreferredUsername
			out["name"] = c.Name
		}
	}
	return out
}

func prefix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[:n]
}

func suffix(s string, n int) string {
	if len(s) < n {
		return s
	}
	return s[len(s)-n:]
}
