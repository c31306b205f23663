package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// HTTPClient fetches members from a platform REST proxy exposing
// GET {base}/guilds/{guild}/members/{user}
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// Credentials selects how requests to the platform proxy are authenticated.
// A client id switches to the OAuth2 client credentials flow; otherwise a
// non-empty Token is sent as a static bearer token.
type Credentials struct {
	Token string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// TokenSource returns the oauth2 token source for c, or nil when requests
// go out unauthenticated
func (c Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	switch {
	case c.ClientID != "":
		cc := &clientcredentials.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			TokenURL:     c.TokenURL,
			Scopes:       c.Scopes,
		}
		return cc.TokenSource(ctx)
	case c.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token, TokenType: "Bearer"})
	default:
		return nil
	}
}

// NewHTTPClient creates a platform client. token is sent as a bearer token
// when non-empty.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return NewHTTPClientWithCredentials(context.Background(), baseURL, Credentials{Token: token}, timeout)
}

// NewHTTPClientWithCredentials creates a platform client authenticating with
// creds. ctx bounds token refreshes of the client credentials flow.
func NewHTTPClientWithCredentials(ctx context.Context, baseURL string, creds Credentials, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if src := creds.TokenSource(ctx); src != nil {
		transport = &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, src), Base: transport}
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// FetchMember implements Client
func (c *HTTPClient) FetchMember(ctx context.Context, guildID, userID string) (*MemberInfo, error) {
	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.baseURL, url.PathEscape(guildID), url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s/%s", ErrMemberNotFound, guildID, userID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("platform returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var member MemberInfo
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return nil, fmt.Errorf("failed to decode member: %w", err)
	}
	if member.GuildID == "" {
		member.GuildID = guildID
	}
	if member.UserID == "" {
		member.UserID = userID
	}
	if member.Positions == nil {
		member.Positions = map[string]int{}
	}
	return &member, nil
}
