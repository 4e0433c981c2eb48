package flow

import "testing"

func TestWindowAccumulates(t *testing.T) {
	w := NewWindow(3)
	w.Add(10, 100)
	w.Add(10, 50)
	if n, _ := w.Get(10); n != 150 {
		t.Errorf("second 10 = %d", n)
	}
	if w.Len() != 1 {
		t.Errorf("Len = %d", w.Len())
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, s := range []int64{12, 10, 11} {
		w.Add(s, 1)
	}
	if ev := w.Add(13, 1); ev != 1 {
		t.Errorf("evicted %d", ev)
	}
	if _, ok := w.Get(10); ok {
		t.Error("oldest second kept")
	}
	if old, _ := w.Oldest(); old != 11 {
		t.Errorf("Oldest = %d", old)
	}
	// A late sample older than everything held is evicted straight away.
	w.Add(5, 1)
	if _, ok := w.Get(5); ok || w.Len() != 3 {
		t.Errorf("late sample kept, Len = %d", w.Len())
	}
	s := w.Samples()
	if len(s) != 3 || s[0].Second != 11 || s[2].Second != 13 {
		t.Errorf("samples = %v", s)
	}
}

func TestWindowThreeHundredOneSeconds(t *testing.T) {
	const start = 1700000000
	w := NewWindow(DefaultWindow)
	for s := int64(start); s <= start+300; s++ {
		w.Add(s, 1)
	}
	if w.Len() != 300 {
		t.Fatalf("Len = %d, want 300", w.Len())
	}
	if _, ok := w.Get(start); ok {
		t.Error("pre-window second not evicted")
	}

	from, to := DisplayRange(start, start+301, DefaultWindow)
	snap := w.Dense(from, to)
	if len(snap) != 301 {
		t.Fatalf("snapshot has %d seconds, want 301", len(snap))
	}
	if from != start+1 || to != start+301 {
		t.Errorf("range = [%d, %d]", from, to)
	}
	if snap[start+1] != 1 || snap[start+300] != 1 || snap[start+301] != 0 {
		t.Errorf("edges = %d %d %d", snap[start+1], snap[start+300], snap[start+301])
	}
}

func TestDisplayRangeFillsFromLeft(t *testing.T) {
	from, to := DisplayRange(1000, 1010, 300)
	if from != 1000 || to != 1300 {
		t.Errorf("range = [%d, %d]", from, to)
	}
	from, to = DisplayRange(1000, 1300, 300)
	if from != 1000 || to != 1300 {
		t.Errorf("at the boundary range = [%d, %d]", from, to)
	}
}

func TestDenseGapFill(t *testing.T) {
	w := NewWindow(10)
	w.Add(3, 7)
	d := w.Dense(1, 5)
	if len(d) != 5 || d[3] != 7 || d[1] != 0 || d[5] != 0 {
		t.Errorf("dense = %v", d)
	}
}
