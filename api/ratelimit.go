package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// backoffLimiter tracks counted attempts per key and applies exponential
// backoff once a threshold is reached. Proof failures are keyed by
// username, login and registration traffic by client IP.
type backoffLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord

	threshold   int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
	now         func() time.Time
}

type attemptRecord struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of failed proofs for one username before
	// lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour

	ipMaxFailures = 20
	ipBaseLockout = 1 * time.Minute
	ipMaxLockout  = 30 * time.Minute

	// Registration runs the full KDF, so every request counts against the
	// per-IP budget regardless of outcome.
	regIPMaxRequests = 5
	regIPBaseLockout = 5 * time.Minute
	regIPMaxLockout  = 1 * time.Hour
	regIPExpiry      = 1 * time.Hour
)

func newBackoffLimiter(threshold int, base, max, expiry time.Duration) *backoffLimiter {
	return &backoffLimiter{
		attempts:    make(map[string]*attemptRecord),
		threshold:   threshold,
		baseLockout: base,
		maxLockout:  max,
		expiry:      expiry,
		now:         time.Now,
	}
}

// newLoginRateLimiter limits failed proofs per username.
func newLoginRateLimiter() *backoffLimiter {
	return newBackoffLimiter(maxFailures, baseLockout, maxLockout, attemptExpiry)
}

// newIPRateLimiter limits failed logins and proofs per client IP.
func newIPRateLimiter() *backoffLimiter {
	return newBackoffLimiter(ipMaxFailures, ipBaseLockout, ipMaxLockout, attemptExpiry)
}

// newRegistrationIPLimiter limits registration requests per client IP.
func newRegistrationIPLimiter() *backoffLimiter {
	return newBackoffLimiter(regIPMaxRequests, regIPBaseLockout, regIPMaxLockout, regIPExpiry)
}

// check returns true if key is currently locked out, along with how long
// the caller should wait. A zero duration means the request may proceed.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastAttempt) > rl.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the counter for key and applies exponential
// backoff once the threshold is reached.
func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.count++
	rec.lastAttempt = now

	if rec.count >= rl.threshold {
		// baseLockout * 2^(count - threshold), capped.
		shift := rec.count - rl.threshold
		lockout := rl.baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > rl.maxLockout {
				lockout = rl.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// recordSuccess resets the counter for key.
func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records. Call periodically from a background goroutine.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastAttempt) > rl.expiry {
			delete(rl.attempts, key)
		}
	}
}

// ---------------------------------------------------------------------------
// Global limiters (sliding window)
// ---------------------------------------------------------------------------

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute

	regGlobalWindow      = 1 * time.Minute
	regGlobalMaxRequests = 50
	regGlobalLockout     = 5 * time.Minute
)

// windowLimiter counts events across all clients in a sliding window and
// locks everyone out once the window fills.
type windowLimiter struct {
	mu          sync.Mutex
	events      []time.Time
	lockedUntil time.Time

	window  time.Duration
	max     int
	lockout time.Duration
	now     func() time.Time
}

func newWindowLimiter(window time.Duration, max int, lockout time.Duration) *windowLimiter {
	return &windowLimiter{window: window, max: max, lockout: lockout, now: time.Now}
}

// newGlobalRateLimiter limits failed proofs across all accounts.
func newGlobalRateLimiter() *windowLimiter {
	return newWindowLimiter(globalWindow, globalMaxFailures, globalLockout)
}

// newRegistrationGlobalLimiter limits registrations across all IPs.
func newRegistrationGlobalLimiter() *windowLimiter {
	return newWindowLimiter(regGlobalWindow, regGlobalMaxRequests, regGlobalLockout)
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = append(rl.events, now)
	rl.events = trimWindow(rl.events, now, rl.window)

	if len(rl.events) >= rl.max {
		rl.lockedUntil = now.Add(rl.lockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many failed attempts; try again later")
}

// writeRegistrationRateLimited sends a 429 response for registration throttling.
func writeRegistrationRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many requests; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Helper: extract client IP
// ---------------------------------------------------------------------------

// extractClientIP returns the client IP for rate limiting. It delegates to
// extractClientIPWithProxies using the API's configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if trustedProxies is non-empty AND the request's RemoteAddr falls within
// one of the trusted CIDR ranges. This prevents untrusted clients from
// spoofing their source IP via headers. With no trusted proxies configured
// (the default) RemoteAddr is always returned.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for _, elem := range strings.Split(fwd, ",") {
				for _, param := range strings.Split(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					raw := strings.TrimSpace(param[4:])
					if ip, ok := parseIPCandidate(raw); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	if remoteIP != "" {
		return remoteIP
	}
	return ""
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	// Remove IPv6 brackets if present.
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	// As a fallback, allow net.ParseIP normalization.
	if ip := net.ParseIP(s); ip != nil {
		return ip.String(), true
	}
	return "", false
}
