package pkg

import "testing"

func TestMountTable_DescendantsOf_ExcludesRootItself(t *testing.T) {
	table := MountTable{
		{MountPoint: "/mnt/ibuild-x"},
		{MountPoint: "/mnt/ibuild-x/dev"},
		{MountPoint: "/mnt/ibuild-x/dev/pts"},
		{MountPoint: "/mnt/ibuild-x/proc"},
		{MountPoint: "/mnt/other"},
	}
	got := table.DescendantsOf("/mnt/ibuild-x")
	want := []string{"/mnt/ibuild-x/dev", "/mnt/ibuild-x/dev/pts", "/mnt/ibuild-x/proc"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMountTable_DescendantsOf_DoesNotMatchSiblingPrefix(t *testing.T) {
	table := MountTable{
		{MountPoint: "/mnt/ibuild-x"},
		{MountPoint: "/mnt/ibuild-xtra"},
	}
	got := table.DescendantsOf("/mnt/ibuild-x")
	if len(got) != 0 {
		t.Fatalf("expected no descendants, got %v", got)
	}
}

func TestUnescapeOctal_DecodesSpaces(t *testing.T) {
	got := unescapeOctal(`/mnt/my\040disk`)
	want := "/mnt/my disk"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUnescapeOctal_LeavesPlainPathsAlone(t *testing.T) {
	got := unescapeOctal("/mnt/plain")
	if got != "/mnt/plain" {
		t.Fatalf("got %q", got)
	}
}
