package lti

// CapabilityBasicLaunch is the capability every consumer must offer for the
// tool's launches to work.
const CapabilityBasicLaunch = "basic-lti-launch-request"

// SecurityProfileOAuth2AccessToken is the security profile the consumer must
// advertise for the JWT-bearer token exchange.
const SecurityProfileOAuth2AccessToken = "oauth2_access_token_ws_security"

// DigestAlgorithmHS256 is the only digest algorithm this tool signs bearer
// assertions with.
const DigestAlgorithmHS256 = "HS256"

// ToolProxyMediaType identifies the tool proxy collection resource in the
// consumer's service catalogue, and is the Content-Type of the proxy
// creation request.
const ToolProxyMediaType = "application/vnd.ims.lti.v2.toolproxy+json"

// GrantTypeJWTBearer is the OAuth 2.0 JWT bearer grant type identifier.
const GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// ToolConsumerProfile is the consumer's advertised profile document. It is
// fetched at registration time and lives only for the duration of one
// handshake.
//
// Consumer-controlled JSON is decoded into this typed shape before any field
// is used; a document that does not fit is a transport failure, never a
// panic.
type ToolConsumerProfile struct {
	// CapabilityOffered is the set of capability identifiers the consumer
	// supports.
	CapabilityOffered []string `json:"capability_offered"`

	// SecurityProfile lists the web service security profiles the
	// consumer accepts.
	SecurityProfile []SecurityProfile `json:"security_profile"`

	// ServiceOffered lists the REST services the consumer exposes.
	ServiceOffered []ServiceOffering `json:"service_offered"`
}

// SecurityProfile is one entry of a consumer profile's security_profile list.
type SecurityProfile struct {
	Name             string   `json:"security_profile_name"`
	DigestAlgorithms []string `json:"digest_algorithm"`
}

// ServiceOffering is one entry of a consumer profile's service_offered list.
type ServiceOffering struct {
	Formats  []string `json:"format"`
	Endpoint string   `json:"endpoint"`
}

// toolProxyCreateRequest is the JSON body POSTed to the consumer's tool
// proxy collection endpoint. It carries our half of the shared secret; the
// consumer's create response carries the other half.
type toolProxyCreateRequest struct {
	LTIVersion       string `json:"lti_version"`
	TCProfileURL     string `json:"tcp_url"`
	BaseURL          string `json:"base_url"`
	HalfSharedSecret string `json:"tp_half_shared_secret"`
}

// toolProxyCreateResponse is the expected body of a successful (201) proxy
// creation response.
type toolProxyCreateResponse struct {
	ToolProxyGUID      string `json:"tool_proxy_guid"`
	TCHalfSharedSecret string `json:"tc_half_shared_secret"`
}

// accessTokenResponse is the consumer token endpoint's JSON response to the
// JWT-bearer grant.
type accessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ltiVersion is the protocol version written into the tool proxy document.
const ltiVersion = "LTI-2p1"
