// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays per spec §4.5: backoff(k) = min(cap, base
// * 2^(k-1)) +- jitter, uniform jitter of JitterFraction either side.
type Backoff struct {
	Base          time.Duration
	Cap           time.Duration
	JitterFraction float64
}

// DefaultBackoff matches spec.md's stated defaults: 5s base, 10min cap,
// +-20% uniform jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:           5 * time.Second,
		Cap:            10 * time.Minute,
		JitterFraction: 0.20,
	}
}

// Delay returns the backoff duration for the k'th retry attempt (1-based:
// the first retry is k=1).
func (b Backoff) Delay(k int) time.Duration {
	if k < 1 {
		k = 1
	}
	base := float64(b.Base)
	capped := float64(b.Cap)
	raw := base * pow2(k-1)
	if raw > capped {
		raw = capped
	}

	jitter := raw * b.JitterFraction
	// uniform in [raw-jitter, raw+jitter]
	delta := (rand.Float64()*2 - 1) * jitter
	result := raw + delta
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// pow2 returns 2^n for n >= 0 without risking overflow for the exponent
// ranges backoff actually sees (retry limits are small integers).
func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
