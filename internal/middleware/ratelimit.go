package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type window struct {
	count int
	until time.Time
}

// RateLimit applies a fixed window per caller. Authenticated requests
// are keyed by user id so tenants sharing a NAT do not throttle each
// other; anonymous requests fall back to the client IP.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := limiterKey(r)
			mu.Lock()
			win, ok := windows[key]
			now := time.Now()
			if !ok || now.After(win.until) {
				win = &window{until: now.Add(per)}
				windows[key] = win
			}
			if win.count >= limit {
				retryIn := win.until.Sub(now)
				mu.Unlock()
				w.Header().Set("Retry-After", strconv.Itoa(int(retryIn.Seconds())+1))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			win.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func limiterKey(r *http.Request) string {
	if uid := UserIDFromContext(r.Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + clientIPForRateLimit(r)
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
