// Package quorum evaluates quorum rules against a topology.
//
// A Policy is an immutable set of rules with their thresholds resolved:
// absolute rules keep their count, percentage rules are converted to
// ceil(fraction × scope count) using the baseline topology captured when
// the rule was configured. All rules for an action class must pass.
//
// Engine wraps the current Policy behind an atomic pointer so the service
// event loop can reconfigure it while other goroutines evaluate verdicts.
//
// The package also resolves recovery quorum specs ("default", "4", "66%")
// into the member count a persistence recovery episode waits for.
package quorum
