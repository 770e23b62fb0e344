package core

import (
	"fmt"
	"strings"
)

// TopicMatcher determines whether a subscription pattern matches a given topic.
type TopicMatcher interface {
	Match(pattern string, topic string) bool
}

// DefaultMatcher supports exact matching, single-level wildcard (*),
// and multi-level wildcard (#). Levels are separated by dots.
//
// Examples:
//
//	"orders.created" matches "orders.created"       (exact)
//	"orders.*"       matches "orders.created"       (single-level)
//	"orders.*"       does NOT match "orders.us.created"
//	"payments.#"     matches "payments.us.created"  (multi-level)
//	"payments.#"     matches "payments"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, topic string) bool {
	return matchLevels(strings.Split(pattern, "."), strings.Split(topic, "."))
}

func matchLevels(pat, top []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			// # in the middle absorbs zero or more levels
			for i := 0; i <= len(top); i++ {
				if matchLevels(rest, top[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(top) == 0 {
				return false
			}
		default:
			if len(top) == 0 || pat[0] != top[0] {
				return false
			}
		}
		pat, top = pat[1:], top[1:]
	}
	return len(top) == 0
}

// IsPattern reports whether s contains a wildcard level.
func IsPattern(s string) bool {
	for _, level := range strings.Split(s, ".") {
		if level == "*" || level == "#" {
			return true
		}
	}
	return false
}

// ValidatePattern rejects empty levels and wildcards embedded inside a level
// such as "orders.cr*ated".
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("listenmux: empty topic pattern")
	}
	for _, level := range strings.Split(pattern, ".") {
		if level == "" {
			return fmt.Errorf("listenmux: topic pattern %q has an empty level", pattern)
		}
		if level != "*" && level != "#" && strings.ContainsAny(level, "*#") {
			return fmt.Errorf("listenmux: topic pattern %q mixes wildcard and text in %q", pattern, level)
		}
	}
	return nil
}

// FilterTopics returns the topics matched by pattern, preserving order.
func FilterTopics(m TopicMatcher, pattern string, topics []string) []string {
	var out []string
	for _, t := range topics {
		if m.Match(pattern, t) {
			out = append(out, t)
		}
	}
	return out
}
