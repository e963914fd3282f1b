// Package rewriter implements the best-effort packet transformation chain (§4.4).
package rewriter

import "tunnelcore/application/logging"

// Rewriter is a pure function over a raw IP packet. Returning nil means
// pass-through (no change); returning an error leaves the running payload
// untouched and is logged, never propagated (§4.4, §7).
type Rewriter func(raw []byte) ([]byte, error)

// Chain folds an ordered sequence of Rewriters over a packet. A Rewriter that
// errors is logged and skipped; the chain continues with the last successful
// payload, yielding an at-most-once-per-direction, best-effort pipeline.
type Chain struct {
	rewriters []Rewriter
	logger    logging.Logger
}

func NewChain(logger logging.Logger, rewriters ...Rewriter) *Chain {
	return &Chain{rewriters: rewriters, logger: logger}
}

func (c *Chain) Append(r Rewriter) {
	c.rewriters = append(c.rewriters, r)
}

// Apply runs the chain over payload, returning the final payload (§8 property 6).
func (c *Chain) Apply(payload []byte) []byte {
	current := payload
	for _, r := range c.rewriters {
		out, err := r(current)
		if err != nil {
			c.logger.Printf("rewriter: error, keeping previous payload: %v", err)
			continue
		}
		if out != nil {
			current = out
		}
	}
	return current
}
