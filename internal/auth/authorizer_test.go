package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/oauth2"
)

type fakeFetcher struct {
	members map[string]GuildMember
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) GuildMember(_ context.Context, _ *oauth2.Token, guildID string) (GuildMember, error) {
	f.calls = append(f.calls, guildID)
	if err, ok := f.errs[guildID]; ok {
		return GuildMember{}, err
	}
	if m, ok := f.members[guildID]; ok {
		return m, nil
	}
	return GuildMember{}, errors.New("not a member")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "test-access-token"}
}

func TestAuthorizeGroupOnlyEntryIgnoresRoles(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{members: map[string]GuildMember{
		"g1": {Roles: []string{"whatever", "roles"}},
	}}
	a := NewAuthorizer(discardLogger(), fetcher, []WhitelistEntry{{GuildID: "g1"}})

	if !a.Authorize(context.Background(), testToken()) {
		t.Fatalf("membership alone must satisfy a role-less entry")
	}
}

func TestAuthorizeRoleEntryRequiresRole(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{members: map[string]GuildMember{
		"g1": {Roles: []string{"r-other"}},
	}}
	entries := []WhitelistEntry{{GuildID: "g1", RoleID: "r-wanted"}}

	a := NewAuthorizer(discardLogger(), fetcher, entries)
	if a.Authorize(context.Background(), testToken()) {
		t.Fatalf("membership without the required role must not authorize")
	}

	fetcher.members["g1"] = GuildMember{Roles: []string{"r-other", "r-wanted"}}
	if !a.Authorize(context.Background(), testToken()) {
		t.Fatalf("membership with the required role must authorize")
	}
}

func TestAuthorizeShortCircuitsOnFirstMatch(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{members: map[string]GuildMember{
		"g1": {Roles: []string{"r1"}},
	}}
	entries := []WhitelistEntry{
		{GuildID: "g1", RoleID: "r1"},
		{GuildID: "g2", RoleID: "r2"},
	}

	a := NewAuthorizer(discardLogger(), fetcher, entries)
	if !a.Authorize(context.Background(), testToken()) {
		t.Fatalf("expected authorization")
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("expected short-circuit after first match, got calls=%v", fetcher.calls)
	}
}

func TestAuthorizeFailsClosedWhenEveryCallErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{
		"g1": errors.New("provider down"),
		"g2": errors.New("provider down"),
	}}
	entries := []WhitelistEntry{
		{GuildID: "g1"},
		{GuildID: "g2", RoleID: "r"},
	}

	a := NewAuthorizer(discardLogger(), fetcher, entries)
	if a.Authorize(context.Background(), testToken()) {
		t.Fatalf("a full provider outage must deny, not authorize")
	}
	if len(fetcher.calls) != 2 {
		t.Fatalf("every entry must still be tried, got calls=%v", fetcher.calls)
	}
}

func TestAuthorizeErrorOnOneEntryContinuesToNext(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		errs:    map[string]error{"g1": errors.New("503")},
		members: map[string]GuildMember{"g2": {}},
	}
	entries := []WhitelistEntry{
		{GuildID: "g1", RoleID: "r"},
		{GuildID: "g2"},
	}

	a := NewAuthorizer(discardLogger(), fetcher, entries)
	if !a.Authorize(context.Background(), testToken()) {
		t.Fatalf("a later entry must still be able to authorize")
	}
}

func TestAuthorizeEmptyWhitelistDenies(t *testing.T) {
	t.Parallel()

	a := NewAuthorizer(discardLogger(), &fakeFetcher{}, nil)
	if a.Authorize(context.Background(), testToken()) {
		t.Fatalf("empty whitelist must deny everyone")
	}
}
