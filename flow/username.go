package flow

import (
	"regexp"
	"strings"

	"github.com/wikiforge/discordauth/discord"
)

// usernamePattern is the character set accepted for new account names.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_äöüÄÖÜß#-]+$`)

// SuggestUsername derives a local account name from a provider identity.
// Legacy identities carry a non-zero discriminator, which is appended to
// keep suggestions distinguishable. Modern identities report "0" or nothing
// and get the bare username.
func SuggestUsername(identity *discord.Identity) string {
	name := identity.Username
	if identity.Discriminator != "" && identity.Discriminator != "0" {
		name = name + "#" + identity.Discriminator
	}
	return name
}

// validateUsername normalizes and checks a chosen account name. It returns
// the trimmed name and a human-facing reason when the name is unusable.
func validateUsername(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "username must not be empty"
	}
	if !usernamePattern.MatchString(name) {
		return "", "username contains disallowed characters"
	}
	return name, ""
}
