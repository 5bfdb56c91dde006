package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter_AllowsUpToLimitThenBlocks(t *testing.T) {
	limiter := newIPRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.allow("1.2.3.4"), "request %d should be allowed", i+1)
	}
	assert.False(t, limiter.allow("1.2.3.4"))
}

func TestIPRateLimiter_TracksCountersIndependentlyPerKey(t *testing.T) {
	limiter := newIPRateLimiter(1, time.Minute)

	assert.True(t, limiter.allow("1.1.1.1"))
	assert.True(t, limiter.allow("2.2.2.2"), "a different client's window is unaffected")
	assert.False(t, limiter.allow("1.1.1.1"))
}

func TestIPRateLimiter_ResetsAfterWindowElapses(t *testing.T) {
	limiter := newIPRateLimiter(1, 10*time.Millisecond)

	assert.True(t, limiter.allow("1.2.3.4"))
	assert.False(t, limiter.allow("1.2.3.4"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, limiter.allow("1.2.3.4"), "a new window should reset the counter")
}

func TestClientIP_StripsPort(t *testing.T) {
	req := &http.Request{RemoteAddr: "203.0.113.5:54321"}
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

func TestClientIP_FallsBackToRawRemoteAddrWithoutPort(t *testing.T) {
	req := &http.Request{RemoteAddr: "not-a-host-port"}
	assert.Equal(t, "not-a-host-port", clientIP(req))
}
