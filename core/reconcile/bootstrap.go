package reconcile

import (
	"forecast-reconcile/core/frame"
	"forecast-reconcile/internal/errors"
)

// SeedCol names the per-repetition seed column added by
// BootstrapReconcile
const SeedCol = "seed"

// BootstrapReconcile repeats Reconcile once per seed in [0, numSeeds),
// tags each repetition with its seed, and returns the vertical
// concatenation of all repetitions in seed order. Every repetition's
// column names are normalized positionally to the first repetition's,
// guarding against strategies that reorder columns nondeterministically.
func (e *Engine) BootstrapReconcile(req Request, numSeeds int) (*frame.Frame, error) {
	if numSeeds <= 0 {
		return nil, errors.Configf("numSeeds must be positive, got %d", numSeeds)
	}

	var combined *frame.Frame
	var firstColumns []string
	for seed := 0; seed < numSeeds; seed++ {
		seedReq := req
		seedReq.Seed = uint64(seed)

		out, err := e.Reconcile(seedReq)
		if err != nil {
			return nil, err
		}

		seeds := make([]int, out.NumRows())
		for i := range seeds {
			seeds[i] = seed
		}
		out = out.WithIntColumn(SeedCol, seeds)

		if seed == 0 {
			firstColumns = out.Columns()
			combined = out
			continue
		}
		if err := out.SetColumnNames(firstColumns); err != nil {
			return nil, err
		}
		combined = combined.Append(out)
	}

	if err := combined.Err(); err != nil {
		return nil, errors.Internal("concatenating bootstrap repetitions", err)
	}
	return combined, nil
}
