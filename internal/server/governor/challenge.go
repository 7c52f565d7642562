package governor

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/netx"
)

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// HTTPChallengeVerifier checks tokens against a siteverify-style endpoint
// (form fields secret, response, remoteip; JSON reply with "success").
type HTTPChallengeVerifier struct {
	endpoint string
	secret   string
	client   *http.Client
}

func NewHTTPChallengeVerifier(endpoint, secret string, timeout time.Duration) *HTTPChallengeVerifier {
	return &HTTPChallengeVerifier{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}
}

func (v *HTTPChallengeVerifier) Verify(ctx context.Context, token, origin string) (bool, error) {
	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	if origin != "" && origin != common.UnknownOrigin {
		form.Set("remoteip", origin)
	}

	var resp siteVerifyResponse
	if err := netx.PostFormJSON(ctx, v.client, v.endpoint, form, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

// RejectAllVerifier is used when no challenge service is configured: an origin
// that reaches the challenge threshold waits for its failures to age out.
type RejectAllVerifier struct{}

func (RejectAllVerifier) Verify(context.Context, string, string) (bool, error) { return false, nil }
