package draft

import (
	"sort"
	"testing"
	"time"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	if !ValidID(id) {
		t.Fatalf("NewID produced invalid id: %s", id)
	}
}

func TestNewIDSortsByCreationOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, NewID(base.Add(time.Duration(i)*time.Millisecond)))
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not in creation order: %v", ids)
		}
	}
}

func TestNewIDUniqueAtSameInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID(now)
		if seen[id] {
			t.Fatalf("duplicate id at same instant: %s", id)
		}
		seen[id] = true
	}
}

func TestParseIDTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	id := NewID(now)
	got, err := ParseIDTime(id)
	if err != nil {
		t.Fatalf("ParseIDTime(%s) error: %v", id, err)
	}
	if !got.Equal(now) {
		t.Errorf("ParseIDTime = %v, want %v", got, now)
	}
}

func TestParseIDTimeRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "draft_abc", "task_1234567890_abcd", "draft_123_ffff"} {
		if _, err := ParseIDTime(id); err == nil {
			t.Errorf("ParseIDTime(%q) succeeded, want error", id)
		}
	}
}
