// Package testutil provides testing utilities, in-memory fakes for the
// host-side ports, and fixture generators for test identities and guild
// memberships.
package testutil
