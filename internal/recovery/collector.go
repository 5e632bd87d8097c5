package recovery

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/custodian/internal/logging"
	"github.com/arloliu/custodian/types"
)

// Defaults for token collection.
const (
	DefaultCollectTimeout     = 5 * time.Second
	DefaultCollectConcurrency = 16
)

// MemberReport is the outcome of asking one member for its tokens.
type MemberReport struct {
	// Member is the member that was asked.
	Member types.MemberID

	// Reporter is the member the answer came from; it must equal Member.
	Reporter types.MemberID

	Tokens []types.RecoveryToken
	Err    error
}

// Collector gathers recovery tokens from members in parallel.
type Collector struct {
	source      types.TokenSource
	timeout     time.Duration
	concurrency int
	logger      types.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCollectTimeout bounds each member's report.
func WithCollectTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCollectConcurrency bounds the number of members asked at once.
func WithCollectConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(l types.Logger) CollectorOption {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollector creates a collector over the token source.
func NewCollector(source types.TokenSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		source:      source,
		timeout:     DefaultCollectTimeout,
		concurrency: DefaultCollectConcurrency,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Collect asks every member for its tokens.
//
// A failing member does not abort the others; its report carries the error
// and the caller decides when to ask again.
//
// Parameters:
//   - ctx: Cancels all outstanding requests
//   - members: Members to ask
//
// Returns:
//   - []MemberReport: One report per member, in input order
func (c *Collector) Collect(ctx context.Context, members []types.MemberID) []MemberReport {
	reports := make([]MemberReport, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, m := range members {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, c.timeout)
			defer cancel()

			report, err := c.source.ReportTokens(mctx, m)
			if err != nil {
				c.logger.Debug("token collection failed", "member_id", m, "error", err)
			}
			reports[i] = MemberReport{Member: m, Reporter: report.Reporter, Tokens: report.Tokens, Err: err}

			return nil
		})
	}
	_ = g.Wait()

	return reports
}
