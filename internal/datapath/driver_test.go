package datapath

import "testing"

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"eth0":        "eth0",
		"eth0.100":    "eth0.100",
		"eth0.100@eth0": "eth0.100",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveParentFromAtSyntax(t *testing.T) {
	got, err := ResolveParent("eth0.100@eth0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "eth0" {
		t.Errorf("ResolveParent = %q, want eth0", got)
	}
}

func TestProgramAndMapPinPaths(t *testing.T) {
	if got, want := programPin("eth0"), pinRoot+"/xdp_prog_eth0"; got != want {
		t.Errorf("programPin = %q, want %q", got, want)
	}
	if got, want := mapPin("eth0"), pinRoot+"/fw_table_eth0"; got != want {
		t.Errorf("mapPin = %q, want %q", got, want)
	}
}
