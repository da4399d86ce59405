package permissions

import "sync"

// RuleMap is the relational index behind the permission cache: group→rules,
// group↔user membership, and per-user version tokens. A user's token changes
// iff that user's applicable rule set changed, so request validators can
// detect staleness in O(1) and recompute lazily.
type RuleMap struct {
	mu         sync.Mutex
	groupRules map[string]map[string]*Rule
	groupUsers map[string]map[string]struct{}
	userGroups map[string]map[string]struct{}
	versions   map[string]uint64
}

func NewRuleMap() *RuleMap {
	return &RuleMap{
		groupRules: make(map[string]map[string]*Rule),
		groupUsers: make(map[string]map[string]struct{}),
		userGroups: make(map[string]map[string]struct{}),
		versions:   make(map[string]uint64),
	}
}

// AddUserGroup records user's membership in group. The user's version is
// bumped only when the group actually contributes rules.
func (m *RuleMap) AddUserGroup(user, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.userGroups[user]; !ok {
		m.userGroups[user] = make(map[string]struct{})
	}
	if _, ok := m.userGroups[user][group]; ok {
		return
	}
	m.userGroups[user][group] = struct{}{}
	if _, ok := m.groupUsers[group]; !ok {
		m.groupUsers[group] = make(map[string]struct{})
	}
	m.groupUsers[group][user] = struct{}{}
	if len(m.groupRules[group]) > 0 {
		m.versions[user]++
	}
}

// DelUserGroup removes user's membership in group.
func (m *RuleMap) DelUserGroup(user, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.userGroups[user][group]; !ok {
		return
	}
	delete(m.userGroups[user], group)
	delete(m.groupUsers[group], user)
	if len(m.groupRules[group]) > 0 {
		m.versions[user]++
	}
}

// AddGroupRule installs or replaces one rule. A replacement parsed from an
// identical source document is a no-op. Returns whether anything changed.
func (m *RuleMap) AddGroupRule(group string, rule *Rule) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.groupRules[group][rule.Name]; ok && existing.SameSource(rule) {
		return false
	}
	if _, ok := m.groupRules[group]; !ok {
		m.groupRules[group] = make(map[string]*Rule)
	}
	m.groupRules[group][rule.Name] = rule
	m.bumpGroupLocked(group)
	return true
}

// DelGroupRule removes one rule by name.
func (m *RuleMap) DelGroupRule(group, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groupRules[group][name]; !ok {
		return
	}
	delete(m.groupRules[group], name)
	m.bumpGroupLocked(group)
}

// SetGroupRules reconciles a group against a full rule set (one group-feed
// element): rules absent from the set are removed, new or changed ones
// installed, identical ones left untouched. Affected users are bumped once.
func (m *RuleMap) SetGroupRules(group string, rules map[string]*Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	current := m.groupRules[group]
	for name := range current {
		if _, ok := rules[name]; !ok {
			delete(current, name)
			changed = true
		}
	}
	for name, rule := range rules {
		if existing, ok := current[name]; ok && existing.SameSource(rule) {
			continue
		}
		if current == nil {
			current = make(map[string]*Rule)
			m.groupRules[group] = current
		}
		current[name] = rule
		changed = true
	}
	if changed {
		m.bumpGroupLocked(group)
	}
}

// DelAllGroupRules resets every group's rules; used when the groups feed
// recovers so queued changes replay as a clean rebuild. Every user that had
// any applicable rule is bumped.
func (m *RuleMap) DelAllGroupRules() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for group, rules := range m.groupRules {
		if len(rules) > 0 {
			m.bumpGroupLocked(group)
		}
	}
	m.groupRules = make(map[string]map[string]*Rule)
}

// UserVersion returns the user's cache-invalidation token.
func (m *RuleMap) UserVersion(user string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[user]
}

// ForEachUserRule visits every rule applicable to user, i.e. every rule of
// every group currently containing the user. Return false to stop early.
func (m *RuleMap) ForEachUserRule(user string, fn func(*Rule) bool) {
	m.mu.Lock()
	var rules []*Rule
	for group := range m.userGroups[user] {
		for _, rule := range m.groupRules[group] {
			rules = append(rules, rule)
		}
	}
	m.mu.Unlock()

	for _, rule := range rules {
		if !fn(rule) {
			return
		}
	}
}

func (m *RuleMap) bumpGroupLocked(group string) {
	for user := range m.groupUsers[group] {
		m.versions[user]++
	}
}
