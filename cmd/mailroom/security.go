package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"mailroom/internal/httputil"
)

const signatureHeader = "X-Mailroom-Signature"

// verifySignature checks the provider's HMAC-SHA256 webhook signature
// and returns the body for reuse by the handler. An empty secret is
// tolerated outside production so local setups can skip signing.
func verifySignature(r *http.Request, secretKey, headerName string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if secretKey == "" {
		if os.Getenv("MAILROOM_ENV") == "production" {
			return nil, fmt.Errorf("webhook secret is required in production mode")
		}
		return body, nil
	}

	header := r.Header.Get(headerName)
	if header == "" {
		return nil, fmt.Errorf("missing signature header: %s", headerName)
	}

	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "sha256" {
		return nil, fmt.Errorf("invalid signature format in header %s", headerName)
	}
	expectedSignatureHex := parts[1]

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write(body)
	computedSignatureHex := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedSignatureHex), []byte(expectedSignatureHex)) {
		return nil, fmt.Errorf("signature mismatch")
	}

	return body, nil
}

// rateLimiter is a per-client fixed-window request counter for the
// webhook endpoint. A zero limit disables limiting.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	counts  map[string]int
	windows map[string]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		counts:  make(map[string]int),
		windows: make(map[string]time.Time),
	}
}

func (rl *rateLimiter) allow(r *http.Request) bool {
	if rl.limit <= 0 {
		return true
	}

	ip := httputil.GetClientIP(r)
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	start, ok := rl.windows[ip]
	if !ok || now.Sub(start) >= rl.window {
		rl.windows[ip] = now
		rl.counts[ip] = 0
		rl.pruneLocked(now)
	}

	if rl.counts[ip] >= rl.limit {
		return false
	}
	rl.counts[ip]++
	return true
}

// pruneLocked drops entries whose window has lapsed so the maps cannot
// grow without bound under rotating client addresses.
func (rl *rateLimiter) pruneLocked(now time.Time) {
	for ip, start := range rl.windows {
		if now.Sub(start) >= rl.window {
			delete(rl.windows, ip)
			delete(rl.counts, ip)
		}
	}
}
