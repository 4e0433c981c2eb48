package trendstore

import (
	"path/filepath"
	"testing"

	"sharkline/internal/models"
)

func TestSaveMergesAndLoadsSorted(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "trend.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Save("eth0", []models.FlowSample{{Second: 20, Bytes: 5}, {Second: 10, Bytes: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := a.Save("eth0", []models.FlowSample{{Second: 20, Bytes: 7}, {Second: 30, Bytes: 2}}); err != nil {
		t.Fatal(err)
	}
	a.Save("lo", []models.FlowSample{{Second: 1, Bytes: 1}})

	got, err := a.Load("eth0")
	if err != nil {
		t.Fatal(err)
	}
	want := []models.FlowSample{{Second: 10, Bytes: 1}, {Second: 20, Bytes: 7}, {Second: 30, Bytes: 2}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	names, err := a.Interfaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "eth0" || names[1] != "lo" {
		t.Errorf("interfaces = %v", names)
	}
}

func TestLoadUnknownInterface(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "trend.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	got, err := a.Load("wlan9")
	if err != nil || got != nil {
		t.Errorf("Load = %v, %v", got, err)
	}
}

func TestClosed(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "trend.db"))
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	if err := a.Save("eth0", nil); err == nil {
		t.Error("Save after Close succeeded")
	}
}
