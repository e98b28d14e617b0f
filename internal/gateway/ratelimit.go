package gateway

import "golang.org/x/time/rate"

const rateLimitBurst = 5

// RateLimiter bounds inbound control frames and injections. rpm <= 0
// disables limiting.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rateLimitBurst),
	}
}

// Allow reports whether one more request fits the budget.
func (r *RateLimiter) Allow() bool {
	if r.limiter == nil {
		return true
	}
	return r.limiter.Allow()
}
