package auth

import (
	"fmt"
	"strings"
)

// WhitelistEntry authorizes login for members of a Discord guild. RoleID
// may be empty, in which case membership alone is sufficient.
type WhitelistEntry struct {
	GuildID string
	RoleID  string
}

// ParseWhitelist parses the PLOT_DISCORD_WHITELIST format:
//
//	guildID:roleID,guildID,guildID:roleID
//
// Whitespace around entries is ignored; empty entries are skipped. The
// result is loaded once at process start and never mutated.
func ParseWhitelist(raw string) ([]WhitelistEntry, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []WhitelistEntry
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		guild, role, hasRole := strings.Cut(part, ":")
		guild = strings.TrimSpace(guild)
		role = strings.TrimSpace(role)
		if guild == "" {
			return nil, fmt.Errorf("whitelist entry %q: missing guild id", part)
		}
		if hasRole && role == "" {
			return nil, fmt.Errorf("whitelist entry %q: trailing colon without role id", part)
		}

		out = append(out, WhitelistEntry{GuildID: guild, RoleID: role})
	}
	return out, nil
}
