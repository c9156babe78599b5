package dispatch

import (
	"math/rand/v2"
	"strconv"
	"strings"
)

// BuildPool concatenates independent random permutations of templates until
// it holds at least q entries, then truncates to q. Every aligned block of
// len(templates) entries is a full permutation.
func BuildPool(templates []string, q int, rng *rand.Rand) []string {
	n := len(templates)
	if n == 0 || q <= 0 {
		return nil
	}
	pool := make([]string, 0, q+n)
	for len(pool) < q {
		for _, i := range rng.Perm(n) {
			pool = append(pool, templates[i])
		}
	}
	return pool[:q]
}

// ParseQuantity accepts a base-10 integer in [1, max].
func ParseQuantity(raw string, max int) (int, bool) {
	q, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || q < 1 || q > max {
		return 0, false
	}
	return q, true
}
