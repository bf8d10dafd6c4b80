package auditfetch

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
)

// CredentialProvider is the identity capability the client needs. An empty
// value with a nil error means "nothing to attach".
type CredentialProvider interface {
	Token(ctx context.Context, template string) (string, error)
	OrgID(ctx context.Context) (string, error)
}

// AttachCredentials sets Authorization and X-Organization-ID when they are not
// already present. Provider failures leave the request unauthenticated.
func AttachCredentials(ctx context.Context, provider CredentialProvider, template string, header http.Header) {
	if provider == nil {
		return
	}

	if header.Get(HeaderAuthorization) == "" {
		token, err := provider.Token(ctx, template)

		switch {
		case err != nil:
			log.Debug().Err(err).Str("template", template).Msg("Token lookup failed, sending request without bearer token")
		case token != "":
			header.Set(HeaderAuthorization, "Bearer "+token)
		}
	}

	if header.Get(HeaderXOrganizationID) == "" {
		orgID, err := provider.OrgID(ctx)

		switch {
		case err != nil:
			log.Debug().Err(err).Msg("Organization lookup failed, sending request without organization id")
		case orgID != "":
			header.Set(HeaderXOrganizationID, orgID)
		}
	}
}
