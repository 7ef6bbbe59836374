package worker

import "testing"

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()

	if got := r.Get("nope"); got != nil {
		t.Errorf("expected nil for unknown task, got %v", got)
	}

	ext := &Extractor{task: &Task{ID: "t1"}}
	r.Register("t1", ext)

	if got := r.Get("t1"); got != ext {
		t.Errorf("Get returned %v, want the registered extractor", got)
	}
	if ids := r.ActiveTasks(); len(ids) != 1 || ids[0] != "t1" {
		t.Errorf("ActiveTasks = %v, want [t1]", ids)
	}

	r.Unregister("t1")
	if got := r.Get("t1"); got != nil {
		t.Errorf("expected nil after unregister, got %v", got)
	}

	// Unregistering an unknown id is a no-op.
	r.Unregister("t1")
}
