package core

import (
	"testing"
	"time"
)

func TestCategoryPermanent(t *testing.T) {
	for _, tc := range []struct {
		cat  Category
		want bool
	}{
		{CategoryCore, true},
		{CategorySystem, true},
		{CategoryFact, false},
		{CategoryEpisode, false},
		{CategoryFeeling, false},
	} {
		if got := tc.cat.Permanent(); got != tc.want {
			t.Errorf("%s.Permanent() = %v, want %v", tc.cat, got, tc.want)
		}
	}
}

func TestCategoryValid(t *testing.T) {
	if !CategoryFact.Valid() {
		t.Error("fact reported invalid")
	}
	if Category("dream").Valid() {
		t.Error("unknown category reported valid")
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := &Record{
		ID:        "mem-1",
		Vector:    []float32{1, 2, 3},
		Extra:     map[string]string{"k": "v"},
		Timestamp: time.Now(),
	}
	dup := rec.Clone()
	dup.Vector[0] = 9
	dup.Extra["k"] = "changed"

	if rec.Vector[0] != 1 {
		t.Error("clone shares the vector")
	}
	if rec.Extra["k"] != "v" {
		t.Error("clone shares the extra map")
	}
}
