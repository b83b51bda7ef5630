package voice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "X-Retell-Signature"

// Webhook events.
const (
	EventCallStarted  = "call_started"
	EventCallEnded    = "call_ended"
	EventCallAnalyzed = "call_analyzed"
)

// signatureWindow bounds how old a signed timestamp may be.
const signatureWindow = 5 * time.Minute

// WebhookEvent is a call lifecycle notification.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		CallID string `json:"call_id"`
	} `json:"data"`
}

// Sign computes the signature for body at ts, formatted "v=<unix ms>,d=<hex>".
func Sign(body []byte, apiKey string, ts time.Time) string {
	v := strconv.FormatInt(ts.UnixMilli(), 10)
	return "v=" + v + ",d=" + digest(body, apiKey, v)
}

// Verify checks a webhook signature against the raw request body.
func Verify(body []byte, apiKey, signature string, now time.Time) bool {
	if apiKey == "" || signature == "" {
		return false
	}
	var v, d string
	for _, part := range strings.Split(signature, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return false
		}
		switch k {
		case "v":
			v = val
		case "d":
			d = val
		}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || d == "" {
		return false
	}
	age := now.Sub(time.UnixMilli(ms))
	if age > signatureWindow || age < -signatureWindow {
		return false
	}
	return hmac.Equal([]byte(d), []byte(digest(body, apiKey, v)))
}

func digest(body []byte, apiKey, v string) string {
	mac := hmac.New(sha256.New, []byte(apiKey))
	mac.Write(body)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}
