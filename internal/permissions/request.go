package permissions

import (
	"github.com/VictoriaMetrics/metrics"

	"fount"
)

var rulesetInvalidations = metrics.NewCounter("fount_ruleset_invalidations_total")

// RequestValidator authorizes the rows of one request. The matching rule
// set is computed lazily and kept until the user's version token moves, so
// a long-lived changefeed request re-filters only when its user's rules
// actually changed.
type RequestValidator struct {
	handle  *Handle
	req     fount.Document
	account fount.Account

	computed bool
	version  uint64
	matching []*Rule
}

// Refresh brings the matching rule set up to date. It fails with
// ErrDesynced when the cache has been cut off from the store longer than
// the staleness bound; authorization must not be decided on stale rules.
func (r *RequestValidator) Refresh() error {
	c := r.handle.cache
	now := c.clock.Now()
	if c.groupsStale(now) || r.handle.entry.stale(now, c.cfg.StaleAfter) {
		desyncRejections.Inc()
		return ErrDesynced
	}

	user := r.handle.entry.id
	version := c.rules.UserVersion(user)
	if r.computed && version == r.version {
		return nil
	}
	if r.computed {
		rulesetInvalidations.Inc()
	}

	r.matching = r.matching[:0]
	c.rules.ForEachUserRule(user, func(rule *Rule) bool {
		if rule.Template.Matches(map[string]any(r.req), r.account) {
			r.matching = append(r.matching, rule)
		}
		return true
	})
	r.version = version
	r.computed = true
	return nil
}

// Allowed reports whether the request itself is permitted: at least one
// applicable rule's template matches its options.
func (r *RequestValidator) Allowed() (bool, error) {
	if err := r.Refresh(); err != nil {
		return false, err
	}
	return len(r.matching) > 0, nil
}

// Unconditional reports whether some matching rule has no validator, in
// which case per-row checks can be skipped for the whole request.
func (r *RequestValidator) Unconditional() (bool, error) {
	if err := r.Refresh(); err != nil {
		return false, err
	}
	for _, rule := range r.matching {
		if rule.Validator == nil {
			return true, nil
		}
	}
	return false, nil
}

// ValidateRow authorizes one document pair: oldDoc is the stored row (nil
// for inserts and plain reads), newDoc the incoming one (nil for reads and
// removes). A row passes when any matching rule permits it.
func (r *RequestValidator) ValidateRow(oldDoc, newDoc fount.Document) (bool, error) {
	if err := r.Refresh(); err != nil {
		return false, err
	}
	for _, rule := range r.matching {
		if rule.Validator == nil || rule.Validator.Eval(r.account, oldDoc, newDoc) {
			return true, nil
		}
	}
	return false, nil
}
