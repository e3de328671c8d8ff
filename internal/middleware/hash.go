package middlewareinternal

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// HashHeader carries the hex HMAC-SHA256 of the request body as sent.
const HashHeader = "HashSHA256"

var (
	errInvalidHash = errors.New("invalid hash format")
	errHashMatch   = errors.New("hash mismatch")
)

func CalculatedHash(body []byte, key string) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return h.Sum(nil)
}

// VerifyRequestHash checks headerHash against body. An empty key or header passes.
func VerifyRequestHash(body []byte, headerHash string, key string) error {
	if key == "" || headerHash == "" {
		return nil
	}
	headerHashBytes, err := hex.DecodeString(headerHash)
	if err != nil {
		return errInvalidHash
	}
	if !hmac.Equal(headerHashBytes, CalculatedHash(body, key)) {
		return errHashMatch
	}
	return nil
}

// HashMiddleware rejects requests whose HashSHA256 header does not match the body.
// It must run before the body is decompressed.
func HashMiddleware(key string, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headerHash := r.Header.Get(HashHeader)
			if key == "" || headerHash == "" {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
				return
			}
			if err := VerifyRequestHash(body, headerHash, key); err != nil {
				logger.Warnw("rejecting request", "uri", r.RequestURI, "remote", r.RemoteAddr, "error", err)
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
