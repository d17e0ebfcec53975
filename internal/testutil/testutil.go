package testutil

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/wikiforge/discordauth"
	"github.com/wikiforge/discordauth/discord"
)

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GenerateTestIdentity creates a test Discord identity
func GenerateTestIdentity() *discord.Identity {
	return &discord.Identity{
		ID:            "100000000000000001",
		Username:      "testuser",
		Discriminator: "0",
		Email:         "test@example.com",
	}
}

// GenerateTestMembership creates a guild membership holding the given roles
func GenerateTestMembership(roles ...string) *discord.Membership {
	return &discord.Membership{
		IsMember: true,
		Roles:    roles,
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertTrue fails the test if condition is false
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// AssertFalse fails the test if condition is true
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("assertion failed: %s", message)
	}
}

// MockSession is an in-memory SessionStore with overridable behavior
type MockSession struct {
	values     map[string]string
	GetFunc    func(key string) (string, bool, error)
	SetFunc    func(key, value string) error
	RemoveFunc func(key string) error
	CallCounts map[string]int
}

// NewMockSession creates a new mock session store
func NewMockSession() *MockSession {
	m := &MockSession{
		values:     make(map[string]string),
		CallCounts: make(map[string]int),
	}

	m.GetFunc = func(key string) (string, bool, error) {
		v, ok := m.values[key]
		return v, ok, nil
	}
	m.SetFunc = func(key, value string) error {
		m.values[key] = value
		return nil
	}
	m.RemoveFunc = func(key string) error {
		delete(m.values, key)
		return nil
	}
	return m
}

func (m *MockSession) Get(_ context.Context, key string) (string, bool, error) {
	m.CallCounts["Get"]++
	return m.GetFunc(key)
}

func (m *MockSession) Set(_ context.Context, key, value string) error {
	m.CallCounts["Set"]++
	return m.SetFunc(key, value)
}

func (m *MockSession) Remove(_ context.Context, key string) error {
	m.CallCounts["Remove"]++
	return m.RemoveFunc(key)
}

// MockAccounts is an in-memory AccountStore with overridable behavior
type MockAccounts struct {
	byID       map[string]*discordauth.User
	byName     map[string]*discordauth.User
	options    map[string]map[string]string
	nextID     int
	CreateFunc func(username string) (*discordauth.User, error)
	CallCounts map[string]int
}

// NewMockAccounts creates a new mock account store
func NewMockAccounts() *MockAccounts {
	m := &MockAccounts{
		byID:       make(map[string]*discordauth.User),
		byName:     make(map[string]*discordauth.User),
		options:    make(map[string]map[string]string),
		CallCounts: make(map[string]int),
	}

	m.CreateFunc = func(username string) (*discordauth.User, error) {
		m.nextID++
		u := &discordauth.User{ID: fmt.Sprintf("%d", m.nextID), Name: username}
		m.byID[u.ID] = u
		m.byName[u.Name] = u
		return u, nil
	}
	return m
}

// Seed registers an existing account and returns it.
func (m *MockAccounts) Seed(id, name string) *discordauth.User {
	u := &discordauth.User{ID: id, Name: name}
	m.byID[id] = u
	m.byName[name] = u
	return u
}

// Option returns a stored per-user option value.
func (m *MockAccounts) Option(userID, key string) string {
	return m.options[userID][key]
}

func (m *MockAccounts) Create(_ context.Context, username string) (*discordauth.User, error) {
	m.CallCounts["Create"]++
	return m.CreateFunc(username)
}

func (m *MockAccounts) FindByName(_ context.Context, username string) (*discordauth.User, error) {
	m.CallCounts["FindByName"]++
	u, ok := m.byName[username]
	if !ok {
		return nil, discordauth.ErrAccountNotFound
	}
	return u, nil
}

func (m *MockAccounts) FindByID(_ context.Context, id string) (*discordauth.User, error) {
	m.CallCounts["FindByID"]++
	u, ok := m.byID[id]
	if !ok {
		return nil, discordauth.ErrAccountNotFound
	}
	return u, nil
}

func (m *MockAccounts) SetOption(_ context.Context, user *discordauth.User, key, value string) error {
	m.CallCounts["SetOption"]++
	if m.options[user.ID] == nil {
		m.options[user.ID] = make(map[string]string)
	}
	m.options[user.ID][key] = value
	return nil
}

func (m *MockAccounts) Save(_ context.Context, user *discordauth.User) error {
	m.CallCounts["Save"]++
	m.byID[user.ID] = user
	m.byName[user.Name] = user
	return nil
}

func (m *MockAccounts) ListUsers(_ context.Context) ([]discordauth.User, error) {
	m.CallCounts["ListUsers"]++
	out := make([]discordauth.User, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, *u)
	}
	return out, nil
}

// MockGroups is an in-memory GroupStore
type MockGroups struct {
	groups     map[string]map[string]bool
	CallCounts map[string]int
}

// NewMockGroups creates a new mock group store
func NewMockGroups() *MockGroups {
	return &MockGroups{
		groups:     make(map[string]map[string]bool),
		CallCounts: make(map[string]int),
	}
}

func (m *MockGroups) AddToGroup(_ context.Context, user *discordauth.User, group string) error {
	m.CallCounts["AddToGroup"]++
	if m.groups[user.ID] == nil {
		m.groups[user.ID] = make(map[string]bool)
	}
	m.groups[user.ID][group] = true
	return nil
}

func (m *MockGroups) RemoveFromGroup(_ context.Context, user *discordauth.User, group string) error {
	m.CallCounts["RemoveFromGroup"]++
	delete(m.groups[user.ID], group)
	return nil
}

func (m *MockGroups) GroupsOf(_ context.Context, user *discordauth.User) ([]string, error) {
	m.CallCounts["GroupsOf"]++
	var out []string
	for g := range m.groups[user.ID] {
		out = append(out, g)
	}
	return out, nil
}

// InGroup reports whether the user is in the group.
func (m *MockGroups) InGroup(userID, group string) bool {
	return m.groups[userID][group]
}

// MockEnforcer is an in-memory Enforcer recording applied restrictions
type MockEnforcer struct {
	Restricted map[string]string
	CallCounts map[string]int
}

// NewMockEnforcer creates a new mock enforcer
func NewMockEnforcer() *MockEnforcer {
	return &MockEnforcer{
		Restricted: make(map[string]string),
		CallCounts: make(map[string]int),
	}
}

func (m *MockEnforcer) ApplyRestriction(_ context.Context, user *discordauth.User, reason string) error {
	m.CallCounts["ApplyRestriction"]++
	m.Restricted[user.ID] = reason
	return nil
}

func (m *MockEnforcer) IsRestricted(_ context.Context, user *discordauth.User) (bool, error) {
	m.CallCounts["IsRestricted"]++
	_, ok := m.Restricted[user.ID]
	return ok, nil
}
