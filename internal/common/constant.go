package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the owner's
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// ChallengeTokenHeaderName carries a solved challenge (CAPTCHA-equivalent)
// token for escalated PIN verification.
const ChallengeTokenHeaderName = "challenge_token"

// ForwardedForHeaderName is consulted first when resolving a client origin.
const ForwardedForHeaderName = "x-forwarded-for"

// UnknownOrigin is the shared ledger key for clients whose origin cannot be resolved.
const UnknownOrigin = "unknown"
