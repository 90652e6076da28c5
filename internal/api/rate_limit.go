package api

import (
	"net/http"
	"strconv"
	"time"
)

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := clientIP(r)
		decision, err := s.deps.Limiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn().Err(err).Str("client", subject).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(r.URL.Path).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "Rate limit exceeded. Please try again later.",
		})
	})
}
