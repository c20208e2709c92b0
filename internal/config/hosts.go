package config

import (
	"fmt"
	"sort"
	"strings"
)

// HostOverride holds the connection settings a group applies to its members.
type HostOverride struct {
	Hostname     string
	User         string
	Port         int
	IdentityFile string
	ProxyJump    string
}

// GroupNames returns the configured group names, sorted.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GroupHosts returns the hosts of every group, groups in name order and
// hosts in file order, without duplicates. These are the candidates that
// host patterns can match.
func (c *Config) GroupHosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, name := range c.GroupNames() {
		for _, h := range c.Groups[name].Hosts {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

// ExpandGroups returns the hosts of the named groups, in argument order.
// Duplicates are left for the host resolver to drop.
func (c *Config) ExpandGroups(names []string) ([]string, error) {
	var hosts []string
	for _, name := range names {
		group, ok := c.Groups[name]
		if !ok {
			available := c.GroupNames()
			if len(available) == 0 {
				return nil, fmt.Errorf("group %q not found (no groups defined)", name)
			}
			return nil, fmt.Errorf("group %q not found (available: %s)", name, strings.Join(available, ", "))
		}
		hosts = append(hosts, group.Hosts...)
	}
	return hosts, nil
}

// HostOverrides maps each group member to its group's connection settings.
// Groups without any setting contribute nothing. When a host is in several
// groups, the first group in name order wins. A %h in the group's hostname
// becomes the member's name.
func (c *Config) HostOverrides() map[string]HostOverride {
	out := make(map[string]HostOverride)
	for _, name := range c.GroupNames() {
		g := c.Groups[name]
		o := HostOverride{Hostname: g.Hostname, User: g.User, Port: g.Port, IdentityFile: g.IdentityFile, ProxyJump: g.ProxyJump}
		if o == (HostOverride{}) {
			continue
		}
		for _, h := range g.Hosts {
			if _, exists := out[h]; exists {
				continue
			}
			member := o
			member.Hostname = strings.ReplaceAll(o.Hostname, "%h", h)
			out[h] = member
		}
	}
	return out
}
