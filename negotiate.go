package lti

import (
	"fmt"
	"strings"
)

// Negotiate validates that a consumer profile satisfies the tool's required
// capability set and security profile. It is a pure function of the profile:
// no side effects, safe to call concurrently.
//
// Both checks must pass: every required capability must appear in
// capability_offered, and the profile must advertise the
// oauth2_access_token_ws_security profile with HS256 among its digest
// algorithms. A superset of the required capabilities is fine.
func Negotiate(profile *ToolConsumerProfile, required []string) error {
	if profile == nil {
		return ErrNegotiationFailed("no consumer profile")
	}

	offered := make(map[string]struct{}, len(profile.CapabilityOffered))
	for _, capability := range profile.CapabilityOffered {
		offered[capability] = struct{}{}
	}

	var missing []string
	for _, capability := range required {
		if _, ok := offered[capability]; !ok {
			missing = append(missing, capability)
		}
	}
	if len(missing) > 0 {
		return ErrNegotiationFailed(fmt.Sprintf("consumer does not offer required capabilities: %s",
			strings.Join(missing, ", ")))
	}

	if !supportsOAuth2AccessToken(profile) {
		return ErrNegotiationFailed(fmt.Sprintf("consumer does not offer %s with %s",
			SecurityProfileOAuth2AccessToken, DigestAlgorithmHS256))
	}

	return nil
}

// supportsOAuth2AccessToken reports whether the profile advertises the
// oauth2_access_token_ws_security profile with HS256.
func supportsOAuth2AccessToken(profile *ToolConsumerProfile) bool {
	for _, sp := range profile.SecurityProfile {
		if sp.Name != SecurityProfileOAuth2AccessToken {
			continue
		}
		for _, alg := range sp.DigestAlgorithms {
			if alg == DigestAlgorithmHS256 {
				return true
			}
		}
	}
	return false
}

// FindServiceEndpoint searches the profile's service catalogue for the
// service identified by exactly the given format, and returns its endpoint
// URL. The format list must equal [format]: a service offering multiple
// formats is a different resource. A missing endpoint is a handshake
// failure, not a crash — the second return value reports presence.
func FindServiceEndpoint(profile *ToolConsumerProfile, format string) (string, bool) {
	for _, service := range profile.ServiceOffered {
		if len(service.Formats) == 1 && service.Formats[0] == format {
			return service.Endpoint, true
		}
	}
	return "", false
}
