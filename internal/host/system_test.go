package host

import "testing"

func TestRequirementIssueError(t *testing.T) {
	issue := RequirementIssue{Feature: "JIT", Message: "disabled", Fatal: false}
	want := "JIT: disabled"
	if issue.Error() != want {
		t.Errorf("expected %q, got %q", want, issue.Error())
	}
}

func TestGetDeviceIDNeverEmpty(t *testing.T) {
	id := GetDeviceID()
	if id == "" {
		t.Error("GetDeviceID should never return an empty string")
	}
}

func TestIsBPFFSMountedDoesNotPanic(t *testing.T) {
	// Exercises the /proc/mounts parse path; the result depends on the host
	// running the test, so only absence of a panic is asserted.
	_ = IsBPFFSMounted()
}

func TestKernelRelease(t *testing.T) {
	release, err := KernelRelease()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if release == "" {
		t.Error("expected a non-empty kernel release string")
	}
}

func TestVerifyXDPSupportReturnsIssueSlice(t *testing.T) {
	// VerifyXDPSupport must never panic regardless of host state, and any
	// issue without JIT control support must be marked fatal.
	issues := VerifyXDPSupport()
	for _, issue := range issues {
		if issue.Feature == "eBPF" && !issue.Fatal {
			t.Error("missing eBPF JIT controls must be reported as fatal")
		}
	}
}
