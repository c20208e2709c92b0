package config

import (
	"reflect"
	"strings"
	"testing"
)

func testConfig() *Config {
	return &Config{
		Groups: map[string]Group{
			"web": {Hosts: []string{"web-01", "web-02"}, User: "deploy"},
			"db":  {Hosts: []string{"db-01", "web-02"}, Port: 2200},
			"pis": {Hosts: []string{"pi-garage"}},
		},
		Defaults: DefaultConfig().Defaults,
	}
}

func TestGroupNamesSorted(t *testing.T) {
	got := testConfig().GroupNames()
	want := []string{"db", "pis", "web"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GroupNames() = %v, want %v", got, want)
	}
}

func TestGroupHosts(t *testing.T) {
	got := testConfig().GroupHosts()
	want := []string{"db-01", "web-02", "pi-garage", "web-01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GroupHosts() = %v, want %v", got, want)
	}
}

func TestGroupHostsEmpty(t *testing.T) {
	if got := DefaultConfig().GroupHosts(); len(got) != 0 {
		t.Errorf("GroupHosts() = %v, want none", got)
	}
}

func TestExpandGroups(t *testing.T) {
	got, err := testConfig().ExpandGroups([]string{"web", "pis"})
	if err != nil {
		t.Fatalf("ExpandGroups error: %v", err)
	}
	want := []string{"web-01", "web-02", "pi-garage"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandGroups() = %v, want %v", got, want)
	}
}

func TestExpandGroupsNotFound(t *testing.T) {
	_, err := testConfig().ExpandGroups([]string{"nonexistent"})
	if err == nil {
		t.Fatal("expected error for nonexistent group")
	}
	if !strings.Contains(err.Error(), "available: db, pis, web") {
		t.Errorf("error should list available groups, got %q", err)
	}
}

func TestExpandGroupsNotFoundNoGroups(t *testing.T) {
	_, err := DefaultConfig().ExpandGroups([]string{"missing"})
	if err == nil || !strings.Contains(err.Error(), "no groups defined") {
		t.Fatalf("expected no-groups error, got %v", err)
	}
}

func TestHostOverrides(t *testing.T) {
	got := testConfig().HostOverrides()

	if got["web-01"].User != "deploy" {
		t.Errorf("web-01 user = %q, want deploy", got["web-01"].User)
	}
	// web-02 is in db and web; db sorts first.
	if o := got["web-02"]; o.Port != 2200 || o.User != "" {
		t.Errorf("web-02 override = %+v, want db's port only", o)
	}
	if _, ok := got["pi-garage"]; ok {
		t.Error("groups without settings should not produce overrides")
	}
}

func TestHostOverridesHostname(t *testing.T) {
	cfg := &Config{Groups: map[string]Group{
		"lab":     {Hosts: []string{"node1", "node2"}, Hostname: "%h.lab.example.com"},
		"bastion": {Hosts: []string{"gw"}, Hostname: "10.0.0.1"},
	}}
	got := cfg.HostOverrides()

	want := map[string]string{
		"node1": "node1.lab.example.com",
		"node2": "node2.lab.example.com",
		"gw":    "10.0.0.1",
	}
	for host, hostname := range want {
		if got[host].Hostname != hostname {
			t.Errorf("%s hostname = %q, want %q", host, got[host].Hostname, hostname)
		}
	}
}
