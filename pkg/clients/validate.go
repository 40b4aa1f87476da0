package clients

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// defaultGrantTypes are applied when a request omits grant_types.
var defaultGrantTypes = []string{"authorization_code", "refresh_token"}

// allowedGrantTypes defines the grant types permitted for registered clients.
var allowedGrantTypes = map[string]bool{
	"authorization_code": true,
	"refresh_token":      true,
}

// defaultResponseTypes are applied when a request omits response_types.
var defaultResponseTypes = []string{"code"}

// allowedResponseTypes defines the response types permitted for registered
// clients.
var allowedResponseTypes = map[string]bool{
	"code": true,
}

// allowedAuthMethods defines the token endpoint auth methods accepted at
// registration.
var allowedAuthMethods = map[string]bool{
	"client_secret_basic": true,
	"client_secret_post":  true,
	"none":                true,
}

// validateMetadata validates a registration request per RFC 7591 and
// returns a copy with defaults applied. Wildcard redirect URIs are rejected
// when productionMode is set.
func validateMetadata(metadata *Metadata, productionMode bool) (*Metadata, *RegistrationError) {
	if metadata == nil {
		return nil, &RegistrationError{
			Code:        ErrorInvalidClientMetadata,
			Description: "request body is required",
		}
	}

	if len(metadata.RedirectURIs) == 0 {
		return nil, &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "redirect_uris is required",
		}
	}
	if len(metadata.RedirectURIs) > MaxRedirectURICount {
		return nil, &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "too many redirect_uris (maximum 10)",
		}
	}
	for _, uri := range metadata.RedirectURIs {
		if err := validateRedirectURI(uri, productionMode); err != nil {
			return nil, err
		}
	}

	if len(metadata.ClientName) > MaxClientNameLength {
		return nil, &RegistrationError{
			Code:        ErrorInvalidClientMetadata,
			Description: "client_name too long (maximum 256 characters)",
		}
	}

	authMethod := metadata.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}
	if !allowedAuthMethods[authMethod] {
		return nil, &RegistrationError{
			Code:        ErrorInvalidClientMetadata,
			Description: "unsupported token_endpoint_auth_method: " + authMethod,
		}
	}

	grantTypes, regErr := validateGrantTypes(metadata.GrantTypes)
	if regErr != nil {
		return nil, regErr
	}

	responseTypes, regErr := validateResponseTypes(metadata.ResponseTypes)
	if regErr != nil {
		return nil, regErr
	}

	return &Metadata{
		RedirectURIs:            metadata.RedirectURIs,
		ClientName:              metadata.ClientName,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   metadata.Scope,
	}, nil
}

func validateGrantTypes(grantTypes []string) ([]string, *RegistrationError) {
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	// Require authorization_code explicitly so a refresh_token-only request
	// gets a clearer error than the allowlist alone would give.
	if !slices.Contains(grantTypes, "authorization_code") {
		return nil, &RegistrationError{
			Code:        ErrorInvalidClientMetadata,
			Description: "grant_types must include 'authorization_code'",
		}
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, &RegistrationError{
				Code:        ErrorInvalidClientMetadata,
				Description: "unsupported grant_type: " + gt,
			}
		}
	}
	return grantTypes, nil
}

func validateResponseTypes(responseTypes []string) ([]string, *RegistrationError) {
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}
	if !slices.Contains(responseTypes, "code") {
		return nil, &RegistrationError{
			Code:        ErrorInvalidClientMetadata,
			Description: "response_types must include 'code'",
		}
	}
	for _, rt := range responseTypes {
		if !allowedResponseTypes[rt] {
			return nil, &RegistrationError{
				Code:        ErrorInvalidClientMetadata,
				Description: "unsupported response_type: " + rt,
			}
		}
	}
	return responseTypes, nil
}

// validateRedirectURI enforces RFC 8252 rules: https anywhere, http only on
// loopback hosts. Wildcards are rejected outright in production mode.
func validateRedirectURI(uri string, productionMode bool) *RegistrationError {
	if uri == "" {
		return &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "redirect_uri cannot be empty",
		}
	}

	if hasWildcard(uri) {
		if productionMode {
			return &RegistrationError{
				Code:        ErrorInvalidRedirectURI,
				Description: "wildcard redirect_uris are not permitted",
			}
		}
		// Development mode tolerates wildcards but they still must parse
		// once the wildcard is stripped out of the host.
		return nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "redirect_uri is not a valid URL: " + uri,
		}
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
		return &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "http redirect_uris are only permitted for loopback addresses",
		}
	default:
		return &RegistrationError{
			Code:        ErrorInvalidRedirectURI,
			Description: "unsupported redirect_uri scheme: " + parsed.Scheme,
		}
	}
}

// isLoopbackHost reports whether the hostname is a loopback address per
// RFC 8252 Section 7.3: 127.0.0.1, ::1, or localhost.
func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}
