package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader заголовок с подписью тела запроса платёжного шлюза.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 1 << 20

// WebhookSignature проверяет HMAC-SHA256 подпись тела запроса.
// Подпись передаётся в hex, допускается префикс "sha256=". При пустом секрете
// все запросы отклоняются.
func WebhookSignature(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()

			got := strings.TrimPrefix(r.Header.Get(SignatureHeader), "sha256=")
			if !hmac.Equal([]byte(got), []byte(Sign(key, body))) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign возвращает hex-подпись HMAC-SHA256 тела.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
