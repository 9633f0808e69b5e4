package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the single static basic-login digest. The digest
// is generated offline and shipped through PLOT_BASIC_LOGIN_DIGEST.
const (
	argonMemoryKiB  = 64 * 1024
	argonIterations = 3
	argonThreads    = 2
	argonSaltLen    = 16
	argonKeyLen     = 32
)

// Decode bounds. Verify refuses digests demanding absurd resources so a
// hostile env value cannot turn login into a memory bomb.
const (
	argonMaxMemoryKiB  = 2 * 1024 * 1024
	argonMaxIterations = 16
	argonMaxThreads    = 8
	argonMaxSaltLen    = 64
	argonMaxKeyLen     = 128
)

var errBadDigest = errors.New("auth: malformed argon2id digest")

// HashBasicDigest produces a PHC-style argon2id digest for password.
// Exposed for the digest-generation helper and tests.
func HashBasicDigest(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, argonIterations, argonMemoryKiB, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemoryKiB, argonIterations, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyBasicDigest reports whether password matches the PHC digest.
func VerifyBasicDigest(password, digest string) (bool, error) {
	memory, iterations, threads, salt, key, err := decodeDigest(digest)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1, nil
}

func decodeDigest(digest string) (memory uint32, iterations uint32, threads uint8, salt, key []byte, err error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errBadDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, errBadDigest
	}

	var m, t, p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return 0, 0, 0, nil, nil, errBadDigest
	}
	if m == 0 || m > argonMaxMemoryKiB || t == 0 || t > argonMaxIterations || p == 0 || p > argonMaxThreads {
		return 0, 0, 0, nil, nil, errBadDigest
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 || len(salt) > argonMaxSaltLen {
		return 0, 0, 0, nil, nil, errBadDigest
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > argonMaxKeyLen {
		return 0, 0, 0, nil, nil, errBadDigest
	}

	return m, t, uint8(p), salt, key, nil
}

// dummyVerify burns the same work as a real verification so a missing or
// unconfigured digest does not leak through response timing.
func dummyVerify(password string) {
	salt := []byte("plotrelay-dummy-salt")
	_ = argon2.IDKey([]byte(password), salt, argonIterations, argonMemoryKiB, argonThreads, argonKeyLen)
}

// loginThrottle is an in-memory per-IP failure window for the basic login
// form.
type loginThrottle struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	limit    int
	window   time.Duration
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &loginThrottle{
		failures: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Blocked reports whether ip has exhausted its failure budget.
func (t *loginThrottle) Blocked(ip string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.prune(ip, now)) >= t.limit
}

// RecordFailure charges one failed attempt against ip.
func (t *loginThrottle) RecordFailure(ip string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[ip] = append(t.prune(ip, now), now)
}

// prune must be called with t.mu held.
func (t *loginThrottle) prune(ip string, now time.Time) []time.Time {
	cut := now.Add(-t.window)
	keep := t.failures[ip][:0]
	for _, s := range t.failures[ip] {
		if s.After(cut) {
			keep = append(keep, s)
		}
	}
	if len(keep) == 0 {
		delete(t.failures, ip)
		return nil
	}
	t.failures[ip] = keep
	return keep
}
