// Package identity provides the opaque per-session identifiers used as the
// conversation key on every backend call.
package identity

import (
	"crypto/rand"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	UserIDPrefix    = "user"
	ThreadNumPrefix = "thread"

	randomSuffixLen = 9
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewUserID returns a fresh user identifier.
func NewUserID() string {
	return newID(UserIDPrefix, time.Now(), rand.Reader)
}

// NewThreadNum returns a fresh thread identifier.
func NewThreadNum() string {
	return newID(ThreadNumPrefix, time.Now(), rand.Reader)
}

// newID builds prefix_<epoch-ms>_<9 base36 chars>. Uniqueness is
// probabilistic; collisions only matter within one client session.
func newID(prefix string, now time.Time, r io.Reader) string {
	return prefix + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomBase36(r, randomSuffixLen)
}

func randomBase36(r io.Reader, n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the clock.
		s := strconv.FormatInt(time.Now().UnixNano(), 36)
		if len(s) > n {
			s = s[len(s)-n:]
		}
		return strings.Repeat("0", n-len(s)) + s
	}
	var b strings.Builder
	b.Grow(n)
	for _, c := range buf {
		b.WriteByte(base36Alphabet[int(c)%len(base36Alphabet)])
	}
	return b.String()
}

// NewMessageID returns a time-ordered message identifier.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ValidKey reports whether s is acceptable as a userId or threadNum.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// ConversationKey joins the identifier pair into the backend's storage key.
func ConversationKey(userID, threadNum string) string {
	return userID + "_" + threadNum
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
