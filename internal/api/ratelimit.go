package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tagvoteapp/tagvote-server/internal/ratelimit"
)

// voteRateLimit returns an operation middleware that limits vote writes per user.
// Anonymous requests pass through; the service rejects them.
// Returns 429 Too Many Requests with Retry-After when the limit is exceeded.
func (s *Server) voteRateLimit(limiter *ratelimit.KeyedRateLimiter) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		userID := GetUserID(ctx.Context())
		if limiter == nil || userID == "" {
			next(ctx)
			return
		}

		ok, retryAfter := limiter.Allow(userID)
		if ok {
			next(ctx)
			return
		}

		s.logger.Warn("Vote rate limit exceeded",
			"user_id", userID,
			"path", ctx.URL().Path,
		)
		ctx.SetHeader("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		_ = huma.WriteErr(s.api, ctx, http.StatusTooManyRequests, "Too many votes. Please try again later.")
	}
}
