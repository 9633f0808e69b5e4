package auth

import (
	"context"
	"log/slog"

	"golang.org/x/oauth2"
)

// MemberFetcher is the slice of the provider client the authorizer needs.
type MemberFetcher interface {
	GuildMember(ctx context.Context, tok *oauth2.Token, guildID string) (GuildMember, error)
}

// Authorizer decides whether a provider identity may log in, based on the
// static whitelist.
type Authorizer struct {
	log       *slog.Logger
	provider  MemberFetcher
	whitelist []WhitelistEntry
}

// NewAuthorizer constructs an Authorizer over the given whitelist.
func NewAuthorizer(log *slog.Logger, provider MemberFetcher, whitelist []WhitelistEntry) *Authorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Authorizer{log: log, provider: provider, whitelist: whitelist}
}

// Authorize returns true on the first whitelist entry the token's identity
// satisfies. A failed provider call counts as a non-match for that entry
// and is never fatal: if every call fails, the result is a plain deny.
func (a *Authorizer) Authorize(ctx context.Context, tok *oauth2.Token) bool {
	for _, entry := range a.whitelist {
		member, err := a.provider.GuildMember(ctx, tok, entry.GuildID)
		if err != nil {
			a.log.Info("auth.whitelist.lookup_failed", "guild_id", entry.GuildID, "err", err)
			continue
		}
		if entry.RoleID == "" {
			return true
		}
		if member.HasRole(entry.RoleID) {
			return true
		}
	}
	return false
}
