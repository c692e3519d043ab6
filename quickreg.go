package oauth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/parkgate-io/authcore/identity"
	"github.com/parkgate-io/authcore/server"
	"github.com/parkgate-io/authcore/storage"
)

// QuickRegistration describes a combined user-and-client provisioning
// request for QuickRegistrar.
type QuickRegistration struct {
	// User profile; Username is required and must be unique
	Username   string
	FirstName  string
	LastName   string
	MiddleName string
	Mail       string
	Mobile     string

	// Client metadata; ClientName and RedirectURI are required
	ClientName string
	ClientURI  string
	// RedirectURI becomes the client's single registered redirect URI
	RedirectURI string
	// Scope is the space-delimited scope granted to the client
	Scope string
}

// QuickGrant is the outcome of a quick registration: the provisioned user
// and client, the client secret (returned exactly once), and a fresh
// single-use authorization code ready to be exchanged at the token endpoint.
type QuickGrant struct {
	User         *storage.User
	Client       *storage.Client
	ClientSecret string

	// Code is the authorization code minted by the recorded approval. It is
	// bound to RedirectURI and subject to the normal single-use rule.
	Code string

	// RedirectURL is the full redirect the user agent would have received
	RedirectURL string
}

// QuickRegistrar provisions a user and a client and drives the
// authorization flow programmatically in one call. It is a convenience for
// bootstrap and test scenarios, not a flow of its own: every step goes
// through the same registry and grant machinery as the HTTP surface, an
// approval is explicitly recorded, and the resulting code is as constrained
// as any other.
type QuickRegistrar struct {
	server *server.Server
	users  storage.UserStore
}

// NewQuickRegistrar creates a QuickRegistrar backed by the given server and
// user store.
func NewQuickRegistrar(srv *server.Server, users storage.UserStore) *QuickRegistrar {
	return &QuickRegistrar{server: srv, users: users}
}

// Provision creates the user and client, records an approval for the
// requested scope, and returns the resulting authorization code.
func (q *QuickRegistrar) Provision(ctx context.Context, reg *QuickRegistration) (*QuickGrant, error) {
	if reg == nil || reg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if reg.ClientName == "" || reg.RedirectURI == "" {
		return nil, fmt.Errorf("client_name and redirect_uri are required")
	}

	user := identity.NewUser(reg.Username, reg.FirstName, reg.LastName, reg.MiddleName, reg.Mail, reg.Mobile)
	if err := q.users.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	client, clientSecret, err := q.server.RegisterClient(ctx, user.ID, &server.ClientRegistration{
		ClientName:   reg.ClientName,
		ClientURI:    reg.ClientURI,
		RedirectURIs: []string{reg.RedirectURI},
		Scope:        reg.Scope,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("failed to register client: %w", err)
	}

	who := identity.FromUser(user)
	view, err := q.server.BeginAuthorization(ctx, &server.AuthorizationParams{
		ClientID:     client.ClientID,
		RedirectURI:  reg.RedirectURI,
		ResponseType: server.ResponseTypeCode,
		Scope:        reg.Scope,
	}, who)
	if err != nil {
		return nil, fmt.Errorf("failed to begin authorization: %w", err)
	}

	target, err := q.server.DecideAuthorization(ctx, view.RequestID, who, true)
	if err != nil {
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}

	code, err := codeFromRedirectURL(target.URL)
	if err != nil {
		return nil, err
	}

	return &QuickGrant{
		User:         user,
		Client:       client,
		ClientSecret: clientSecret,
		Code:         code,
		RedirectURL:  target.URL,
	}, nil
}

func codeFromRedirectURL(redirectURL string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URL: %w", err)
	}

	code := parsed.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL carries no authorization code")
	}
	return code, nil
}
