package identity

import (
	"strings"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Use X for storage", "use x for storage"},
		{"  Use   X\tfor\nstorage  ", "use x for storage"},
		{"use x for storage", "use x for storage"},
		{"", ""},
	}

	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCanonicalID_Deterministic(t *testing.T) {
	ns := NamespaceID("project-p")

	a := CanonicalID(ns, "use x for storage")
	b := CanonicalID(ns, "use x for storage")
	if a != b {
		t.Errorf("same content produced different ids: %s vs %s", a, b)
	}

	c := CanonicalID(ns, "use y for storage")
	if a == c {
		t.Error("different content produced the same id")
	}
}

func TestCanonicalID_NamespaceSalt(t *testing.T) {
	a := CanonicalID(NamespaceID("project-a"), "use x for storage")
	b := CanonicalID(NamespaceID("project-b"), "use x for storage")
	if a == b {
		t.Error("equal content in different projects must not collide")
	}
}

func TestInstanceID_Deterministic(t *testing.T) {
	a := InstanceID("session-1", "D1")
	b := InstanceID("session-1", "D1")
	if a != b {
		t.Errorf("same mention produced different ids: %s vs %s", a, b)
	}

	if InstanceID("session-1", "D1") == InstanceID("session-2", "D1") {
		t.Error("same label in different sessions must not collide")
	}
	if InstanceID("session-1", "D1") == InstanceID("session-1", "D2") {
		t.Error("different labels in the same session must not collide")
	}
}

func TestEdgeID_OrderIndependent(t *testing.T) {
	forward := EdgeID("session-1", "session-2")
	reverse := EdgeID("session-2", "session-1")
	if forward != reverse {
		t.Errorf("EdgeID must be order-independent: %s vs %s", forward, reverse)
	}

	other := EdgeID("session-1", "session-3")
	if forward == other {
		t.Error("different session pairs must not collide")
	}
}

func TestDerive_SeparatorAmbiguity(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must hash differently.
	if InstanceID("ab", "c") == InstanceID("a", "bc") {
		t.Error("field separator failed to disambiguate part boundaries")
	}
}

func TestRecordID_SortableByTime(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := RecordID("sync", t0)
	later := RecordID("sync", t0.Add(time.Second))

	if !strings.HasPrefix(earlier, "sync-") {
		t.Errorf("missing prefix: %s", earlier)
	}
	if !(earlier < later) {
		t.Errorf("record ids must sort by creation time: %s >= %s", earlier, later)
	}
}
