package matcher

import (
	"github.com/GPTx-global/near-oracle/oracle/types"
)

// FindMatch returns the first request, in document order, whose request_spec
// equals target exactly.
func FindMatch(set *types.RequestSet, target string) types.MatchResult {
	for _, req := range set.Requests() {
		if req.HasSpec && req.RequestSpec == target {
			return types.Found(req.ID)
		}
	}

	return types.NotFound
}
