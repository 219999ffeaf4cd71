package models

// Study carries the per-study policy flags this subsystem consults. The
// rest of the study model lives with the service layer that owns it.
type Study struct {
	ID string
	// ReauthEnabled gates issuing and accepting reauthentication tokens.
	ReauthEnabled bool
	// VerifyChannelOnSignIn requires accounts to leave the unverified
	// status before password sign-in succeeds.
	VerifyChannelOnSignIn bool
}

// CallerContext is the explicit per-request caller context. It replaces
// ambient global state: every call that needs the caller's visibility or
// privileges receives it as an argument.
type CallerContext struct {
	// Substudies is the caller's permitted sub-study set. Empty means
	// unrestricted.
	Substudies []string
	// CanUpdateIdentifiers permits changing email, phone, and external ids
	// through Update.
	CanUpdateIdentifiers bool
}

// PermitsSubstudy reports whether the caller may see the given sub-study.
func (c CallerContext) PermitsSubstudy(substudyID string) bool {
	if len(c.Substudies) == 0 {
		return true
	}
	for _, s := range c.Substudies {
		if s == substudyID {
			return true
		}
	}
	return false
}
