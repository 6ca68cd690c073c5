package badger

import "testing"

func TestIPUsageIncrementAndGet(t *testing.T) {
	db := openTestDB(t)
	s := NewIPUsageStorage(db)

	count, err := s.Increment("ip-1", 1)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Increment() = %d, want 1", count)
	}

	count, err = s.Increment("ip-1", 1)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Increment() = %d, want 2", count)
	}

	got, err := s.Get("ip-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != 2 {
		t.Errorf("Get() = %d, want 2", got)
	}
}

func TestIPUsageIncrementNeverGoesNegative(t *testing.T) {
	db := openTestDB(t)
	s := NewIPUsageStorage(db)

	count, err := s.Increment("ip-1", -5)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Increment() = %d, want 0 (floor at zero)", count)
	}
}

func TestIPUsageGetUnseenIsZero(t *testing.T) {
	db := openTestDB(t)
	s := NewIPUsageStorage(db)

	got, err := s.Get("never-seen")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != 0 {
		t.Errorf("Get() = %d, want 0", got)
	}
}
