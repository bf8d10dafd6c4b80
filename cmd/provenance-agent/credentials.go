package main

import (
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/credential"
	"github.com/reconai/auditkit/goredis"
	"github.com/reconai/auditkit/internal/config"
)

// newCredentials prefers client-credential tokens and falls back to the static
// token and organization. With SHARED_TOKENS, agents sharing a Redis refresh
// each token once between them.
//
//nolint:ireturn
func newCredentials(cfg *config.Agent, rds *goredis.Redis) auditfetch.CredentialProvider {
	static := credential.Static{
		AccessToken:    cfg.AccessToken,
		OrganizationID: cfg.OrganizationID,
	}

	if !cfg.UsesClientCredentials() {
		return static
	}

	var source credential.TokenSource

	if cfg.UsesKeycloak() {
		var opts []credential.KeycloakOption
		if cfg.KeycloakTenantID != "" {
			opts = append(opts, credential.WithTenantID(cfg.KeycloakTenantID))
		}

		source = credential.NewKeycloak(
			credential.KeycloakTokenURL(cfg.KeycloakBaseURL, cfg.KeycloakRealm),
			cfg.ClientID,
			cfg.ClientSecret,
			opts...,
		)
	} else {
		source = credential.NewClientCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret)
	}

	if cfg.SharedTokens {
		source = credential.NewShared(source, rds.Client)
	}

	orgOpt := credential.WithOrgFromClaims()
	if cfg.OrganizationID != "" {
		orgOpt = credential.WithOrgID(cfg.OrganizationID)
	}

	log.Info().
		Str("client_id", cfg.ClientID).
		Bool("keycloak", cfg.UsesKeycloak()).
		Bool("shared_tokens", cfg.SharedTokens).
		Msg("Client credentials configured")

	return credential.Chain{credential.NewProvider(source, orgOpt), static}
}
