package bubble

import "time"

// randomInt is uniform over [min, max].
func (r *Registry) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + r.rng.IntN(max-min+1)
}

// randomDuration is uniform over [min, max].
func (r *Registry) randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.rng.Int64N(int64(max-min)+1))
}
