package names

import "testing"

func TestRequestNamePrimaryOwner(t *testing.T) {
	r := New()
	res := r.RequestName("com.example.Foo", ":1.0", 0)
	if res.Code != ReplyPrimaryOwner {
		t.Fatalf("Code = %v, want ReplyPrimaryOwner", res.Code)
	}
	owner, ok := r.GetNameOwner("com.example.Foo")
	if !ok || owner != ":1.0" {
		t.Fatalf("GetNameOwner = %q, %v", owner, ok)
	}
}

func TestRequestNameQueuesSecondClaimant(t *testing.T) {
	r := New()
	r.RequestName("com.example.Foo", ":1.0", 0)
	res := r.RequestName("com.example.Foo", ":1.1", 0)
	if res.Code != ReplyInQueue {
		t.Fatalf("Code = %v, want ReplyInQueue", res.Code)
	}
	queued := r.ListQueuedOwners("com.example.Foo")
	if len(queued) != 2 || queued[0] != ":1.0" || queued[1] != ":1.1" {
		t.Fatalf("ListQueuedOwners = %v", queued)
	}
}

func TestRequestNameDoNotQueueReturnsExists(t *testing.T) {
	r := New()
	r.RequestName("com.example.Foo", ":1.0", 0)
	res := r.RequestName("com.example.Foo", ":1.1", FlagDoNotQueue)
	if res.Code != ReplyExists {
		t.Fatalf("Code = %v, want ReplyExists", res.Code)
	}
	queued := r.ListQueuedOwners("com.example.Foo")
	if len(queued) != 1 || queued[0] != ":1.0" {
		t.Fatalf("ListQueuedOwners after purge = %v, want only :1.0", queued)
	}
}

// TestRequestNameScenarioFromSpec replays the literal RequestName
// sequence: primary -> in_queue -> replacement attempts -> replacement.
func TestRequestNameScenarioFromSpec(t *testing.T) {
	r := New()

	res := r.RequestName("com.example.S", ":1.0", 0)
	if res.Code != ReplyPrimaryOwner {
		t.Fatalf("A's first request = %v, want ReplyPrimaryOwner", res.Code)
	}

	res = r.RequestName("com.example.S", ":1.1", 0)
	if res.Code != ReplyInQueue {
		t.Fatalf("B's first request = %v, want ReplyInQueue", res.Code)
	}

	res = r.RequestName("com.example.S", ":1.1", FlagReplaceExisting)
	if res.Code != ReplyInQueue {
		t.Fatalf("B's replace attempt without owner's consent = %v, want ReplyInQueue", res.Code)
	}

	res = r.RequestName("com.example.S", ":1.0", FlagAllowReplacement)
	if res.Code != ReplyAlreadyOwner {
		t.Fatalf("A re-requesting with allow_replacement = %v, want ReplyAlreadyOwner", res.Code)
	}

	res = r.RequestName("com.example.S", ":1.1", FlagReplaceExisting)
	if res.Code != ReplyPrimaryOwner {
		t.Fatalf("B's replace now that A allows it = %v, want ReplyPrimaryOwner", res.Code)
	}
	if !res.OwnerChanged || res.OldOwner != ":1.0" || res.NewOwner != ":1.1" {
		t.Fatalf("transition = %+v, want :1.0 -> :1.1", res)
	}

	owner, _ := r.GetNameOwner("com.example.S")
	if owner != ":1.1" {
		t.Fatalf("owner = %q, want :1.1", owner)
	}
	queued := r.ListQueuedOwners("com.example.S")
	if len(queued) != 2 || queued[0] != ":1.1" || queued[1] != ":1.0" {
		t.Fatalf("ListQueuedOwners after replacement = %v", queued)
	}
}

func TestRequestNameAlreadyOwner(t *testing.T) {
	r := New()
	r.RequestName("com.example.Foo", ":1.0", 0)
	res := r.RequestName("com.example.Foo", ":1.0", 0)
	if res.Code != ReplyAlreadyOwner {
		t.Fatalf("Code = %v, want ReplyAlreadyOwner", res.Code)
	}
	if res.OwnerChanged {
		t.Fatalf("OwnerChanged = true on idempotent already_owner request")
	}
}

func TestReleaseNamePromotesNextWaiter(t *testing.T) {
	r := New()
	r.RequestName("com.example.Foo", ":1.0", 0)
	r.RequestName("com.example.Foo", ":1.1", 0)

	code, res := r.ReleaseName("com.example.Foo", ":1.0")
	if code != ReleaseReplied {
		t.Fatalf("code = %v, want ReleaseReplied", code)
	}
	if !res.OwnerChanged || res.OldOwner != ":1.0" || res.NewOwner != ":1.1" {
		t.Fatalf("transition = %+v", res)
	}
	owner, ok := r.GetNameOwner("com.example.Foo")
	if !ok || owner != ":1.1" {
		t.Fatalf("GetNameOwner after release = %q, %v", owner, ok)
	}
}

func TestReleaseNameNonExistentAndNotOwner(t *testing.T) {
	r := New()
	if code, _ := r.ReleaseName("com.example.Foo", ":1.0"); code != ReleaseNonExistent {
		t.Fatalf("ReleaseName on unknown name = %v, want ReleaseNonExistent", code)
	}
	r.RequestName("com.example.Foo", ":1.0", 0)
	if code, _ := r.ReleaseName("com.example.Foo", ":1.1"); code != ReleaseNotOwner {
		t.Fatalf("ReleaseName by non-owner = %v, want ReleaseNotOwner", code)
	}
}

func TestReleaseAllOwnedByReportsTransitions(t *testing.T) {
	r := New()
	r.RequestName("com.example.Foo", ":1.0", 0)
	r.RequestName("com.example.Bar", ":1.0", 0)
	r.RequestName("com.example.Bar", ":1.1", 0)

	transitions := r.ReleaseAllOwnedBy(":1.0")
	if len(transitions) != 2 {
		t.Fatalf("transitions = %v, want 2 entries", transitions)
	}
	if r.NameHasOwner("com.example.Foo") {
		t.Fatalf("com.example.Foo should have no owner left")
	}
	owner, ok := r.GetNameOwner("com.example.Bar")
	if !ok || owner != ":1.1" {
		t.Fatalf("com.example.Bar owner = %q, %v, want :1.1", owner, ok)
	}
}

// TestGetNameOwnerCacheNeverServesAStaleOwner exercises the ownerCache's
// invalidation: an owner change must be visible to the very next
// GetNameOwner call even though the previous call populated the cache.
func TestGetNameOwnerCacheNeverServesAStaleOwner(t *testing.T) {
	r := New()

	if owner, ok := r.GetNameOwner("com.example.Foo"); ok || owner != "" {
		t.Fatalf("GetNameOwner on an unclaimed name = %q, %v", owner, ok)
	}

	r.RequestName("com.example.Foo", ":1.0", 0)
	owner, ok := r.GetNameOwner("com.example.Foo")
	if !ok || owner != ":1.0" {
		t.Fatalf("GetNameOwner after RequestName = %q, %v, want :1.0", owner, ok)
	}

	r.RequestName("com.example.Foo", ":1.1", 0)
	_, _ = r.GetNameOwner("com.example.Foo") // repopulate the cache before mutating again
	code, _ := r.ReleaseName("com.example.Foo", ":1.0")
	if code != ReleaseReplied {
		t.Fatalf("ReleaseName = %v, want ReleaseReplied", code)
	}
	owner, ok = r.GetNameOwner("com.example.Foo")
	if !ok || owner != ":1.1" {
		t.Fatalf("GetNameOwner after ReleaseName = %q, %v, want :1.1 (stale cache)", owner, ok)
	}

	r.ReleaseAllOwnedBy(":1.1")
	if owner, ok := r.GetNameOwner("com.example.Foo"); ok {
		t.Fatalf("GetNameOwner after ReleaseAllOwnedBy = %q, %v, want no owner (stale cache)", owner, ok)
	}
}

func TestActivatableStartServiceByName(t *testing.T) {
	a := NewActivatable([]string{"com.example.Activatable"})
	if !a.IsActivatable("com.example.Activatable") {
		t.Fatalf("IsActivatable = false for configured name")
	}
	if err := a.StartServiceByName("com.example.NotConfigured"); err == nil {
		t.Fatalf("StartServiceByName on unconfigured name should error")
	}
	if err := a.StartServiceByName("com.example.Activatable"); err == nil {
		t.Fatalf("StartServiceByName should report activation unsupported")
	}
}
