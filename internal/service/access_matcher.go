package service

import (
	"fmt"
	"net/netip"
	"strings"
)

// AccessList is a named, immutable set of hostname literals and IP prefixes.
type AccessList struct {
	name     string
	literals map[string]struct{}
	prefixes []netip.Prefix
}

// NewAccessList parses entries. An entry containing "/" is a CIDR, a bare IP
// becomes a single-address prefix and anything else is a hostname literal.
func NewAccessList(name string, entries []string) (*AccessList, error) {
	acl := &AccessList{
		name:     name,
		literals: make(map[string]struct{}),
	}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		prefix, isIP, err := parseIPOrCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("access list %s: invalid entry %q: %w", name, entry, err)
		}
		if isIP {
			acl.prefixes = append(acl.prefixes, prefix)
			continue
		}
		acl.literals[strings.ToLower(entry)] = struct{}{}
	}

	return acl, nil
}

// parseIPOrCIDR parses an IP address or CIDR notation. isIP is false for
// hostname literals.
func parseIPOrCIDR(s string) (netip.Prefix, bool, error) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, false, err
		}
		return prefix.Masked(), true, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, false, nil
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), true, nil
}

// Name returns the list name
func (a *AccessList) Name() string {
	return a.name
}

// Len returns the number of entries
func (a *AccessList) Len() int {
	return len(a.literals) + len(a.prefixes)
}

// Matches reports whether identity equals a hostname literal or falls inside
// one of the prefixes. Prefix containment never crosses address families.
func (a *AccessList) Matches(identity string) bool {
	if a == nil || identity == "" {
		return false
	}

	if _, ok := a.literals[strings.ToLower(identity)]; ok {
		return true
	}

	addr, err := netip.ParseAddr(strings.Trim(identity, "[]"))
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range a.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// AccessMatcher resolves named access lists loaded at startup.
type AccessMatcher struct {
	lists map[string]*AccessList
}

// NewAccessMatcher parses every named list
func NewAccessMatcher(lists map[string][]string) (*AccessMatcher, error) {
	m := &AccessMatcher{lists: make(map[string]*AccessList, len(lists))}
	for name, entries := range lists {
		acl, err := NewAccessList(name, entries)
		if err != nil {
			return nil, err
		}
		m.lists[name] = acl
	}
	return m, nil
}

// List returns the named list, or nil
func (m *AccessMatcher) List(name string) *AccessList {
	return m.lists[name]
}

// Matches tests identity against the named list. Unknown lists match nothing.
func (m *AccessMatcher) Matches(identity, list string) bool {
	return m.lists[list].Matches(identity)
}
