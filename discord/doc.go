// Package discord talks to the Discord OAuth2 and REST APIs: authorization
// URL construction, code-for-token exchange, profile lookup, and guild
// membership lookup in both user-token and bot-token trust modes.
package discord
