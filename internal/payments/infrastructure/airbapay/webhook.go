package airbapay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/lessonpass/internal/payments/domain"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

// Sign returns the signature the provider sends for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the signature before decoding anything. Without a
// configured secret every webhook is rejected.
func (c *Client) VerifyWebhook(payload []byte, signature string) (domain.StatusReport, error) {
	if c.config.WebhookSecret == "" {
		return domain.StatusReport{}, fmt.Errorf("%w: no webhook secret configured", domain.ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return domain.StatusReport{}, domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(c.config.WebhookSecret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.StatusReport{}, domain.ErrInvalidSignature
	}

	var resp paymentResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if resp.ID == "" {
		return domain.StatusReport{}, fmt.Errorf("%w: payment id missing", domain.ErrMalformedPayload)
	}
	return toReport(resp, payload)
}
