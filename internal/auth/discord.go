package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// Discord endpoints for the authorization-code grant.
const (
	discordAPIBaseURL   = "https://discord.com/api"
	discordAuthorizeURL = "https://discord.com/oauth2/authorize"
	discordTokenURL     = "https://discord.com/api/oauth2/token"
)

// Scopes: identify for the username, guilds.members.read for the
// whitelist role check.
var discordScopes = []string{"identify", "guilds.members.read"}

// DiscordUser is the subset of the provider user document we use, plus the
// raw document for session caching.
type DiscordUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`

	Raw map[string]any `json:"-"`
}

// DisplayName renders the legacy "name#1234" form when the account still
// has a non-zero discriminator, and the bare username otherwise.
func (u DiscordUser) DisplayName() string {
	if n, err := strconv.Atoi(u.Discriminator); err == nil && n > 0 {
		return u.Username + "#" + u.Discriminator
	}
	return u.Username
}

// GuildMember is the caller's membership record in one guild.
type GuildMember struct {
	Roles []string `json:"roles"`
}

// HasRole reports whether roleID appears in the membership's role list.
func (m GuildMember) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// DiscordClient wraps the OAuth2 config and the member-info API calls.
type DiscordClient struct {
	oauth   *oauth2.Config
	apiBase string
}

// DiscordOption overrides endpoints, used by tests to point at a fake
// provider.
type DiscordOption func(*DiscordClient)

// WithEndpoints replaces the authorize/token/API endpoints.
func WithEndpoints(authorizeURL, tokenURL, apiBase string) DiscordOption {
	return func(c *DiscordClient) {
		c.oauth.Endpoint = oauth2.Endpoint{AuthURL: authorizeURL, TokenURL: tokenURL}
		c.apiBase = strings.TrimRight(apiBase, "/")
	}
}

// NewDiscordClient constructs the provider client. redirectURL must be the
// externally reachable /authorize/discord callback.
func NewDiscordClient(clientID, clientSecret, redirectURL string, opts ...DiscordOption) *DiscordClient {
	c := &DiscordClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       discordScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  discordAuthorizeURL,
				TokenURL: discordTokenURL,
			},
		},
		apiBase: discordAPIBaseURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// AuthCodeURL builds the provider redirect for state. prompt=consent forces
// the provider to re-prompt instead of silently reusing prior consent.
func (c *DiscordClient) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades the callback code for an access token.
func (c *DiscordClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.oauth.Exchange(ctx, code)
}

// CurrentUser fetches the authenticated user document.
func (c *DiscordClient) CurrentUser(ctx context.Context, tok *oauth2.Token) (DiscordUser, error) {
	var raw map[string]any
	if err := c.getJSON(ctx, tok, "/users/@me", &raw); err != nil {
		return DiscordUser{}, err
	}

	var user DiscordUser
	data, err := json.Marshal(raw)
	if err != nil {
		return DiscordUser{}, err
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return DiscordUser{}, err
	}
	user.Raw = raw
	return user, nil
}

// GuildMember fetches the caller's membership record in guildID.
func (c *DiscordClient) GuildMember(ctx context.Context, tok *oauth2.Token, guildID string) (GuildMember, error) {
	var member GuildMember
	path := "/users/@me/guilds/" + guildID + "/member"
	if err := c.getJSON(ctx, tok, path, &member); err != nil {
		return GuildMember{}, err
	}
	return member, nil
}

func (c *DiscordClient) getJSON(ctx context.Context, tok *oauth2.Token, path string, dst any) error {
	httpClient := c.oauth.Client(ctx, tok)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
