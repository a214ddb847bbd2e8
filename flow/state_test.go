package flow

import (
	"testing"
)

type item struct {
	Key   string
	Value int
}

func itemKey(i item) string { return i.Key }

func TestReplace(t *testing.T) {
	t.Run("nil incoming keeps current", func(t *testing.T) {
		cur := &item{Key: "a", Value: 1}
		if got := Replace(cur, nil); got != cur {
			t.Errorf("expected current pointer back, got %+v", got)
		}
	})

	t.Run("non-nil incoming wins", func(t *testing.T) {
		cur := &item{Key: "a", Value: 1}
		in := &item{Key: "b", Value: 2}
		if got := Replace(cur, in); got != in {
			t.Errorf("expected incoming pointer, got %+v", got)
		}
	})

	t.Run("nil current accepts incoming", func(t *testing.T) {
		in := &item{Key: "b"}
		if got := Replace(nil, in); got != in {
			t.Errorf("expected incoming pointer, got %+v", got)
		}
	})
}

func TestReplaceZero(t *testing.T) {
	tests := []struct {
		name string
		cur  string
		in   string
		want string
	}{
		{"zero incoming keeps current", "analyzed", "", "analyzed"},
		{"non-zero incoming wins", "analyzed", "validated", "validated"},
		{"both zero stays zero", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReplaceZero(tt.cur, tt.in); got != tt.want {
				t.Errorf("ReplaceZero(%q, %q) = %q, want %q", tt.cur, tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceSlice(t *testing.T) {
	t.Run("nil incoming keeps current", func(t *testing.T) {
		cur := []int{1, 2}
		got := ReplaceSlice(cur, nil)
		if len(got) != 2 {
			t.Errorf("expected current slice, got %v", got)
		}
	})

	t.Run("empty non-nil incoming replaces wholesale", func(t *testing.T) {
		cur := []int{1, 2}
		got := ReplaceSlice(cur, []int{})
		if len(got) != 0 {
			t.Errorf("expected empty slice, got %v", got)
		}
	})

	t.Run("incoming replaces wholesale", func(t *testing.T) {
		got := ReplaceSlice([]int{1, 2}, []int{9})
		if len(got) != 1 || got[0] != 9 {
			t.Errorf("expected [9], got %v", got)
		}
	})
}

func TestAppendSeq(t *testing.T) {
	t.Run("appends in order", func(t *testing.T) {
		got := AppendSeq([]string{"a", "b"}, []string{"c", "d"})
		want := []string{"a", "b", "c", "d"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("index %d: expected %q, got %q", i, want[i], got[i])
			}
		}
	})

	t.Run("empty incoming is no-op", func(t *testing.T) {
		cur := []string{"a"}
		got := AppendSeq(cur, nil)
		if len(got) != 1 || got[0] != "a" {
			t.Errorf("expected current back, got %v", got)
		}
	})

	t.Run("does not mutate current", func(t *testing.T) {
		cur := make([]string, 1, 4)
		cur[0] = "a"
		_ = AppendSeq(cur, []string{"b"})
		if len(cur) != 1 {
			t.Errorf("current slice mutated: %v", cur)
		}
	})
}

func TestUpsertByKey(t *testing.T) {
	t.Run("new keys append at end", func(t *testing.T) {
		cur := []item{{Key: "a", Value: 1}}
		got := UpsertByKey(cur, []item{{Key: "b", Value: 2}}, itemKey)
		if len(got) != 2 || got[1].Key != "b" {
			t.Fatalf("expected [a b], got %v", got)
		}
	})

	t.Run("existing key replaces in place", func(t *testing.T) {
		cur := []item{{Key: "a", Value: 1}, {Key: "b", Value: 2}}
		got := UpsertByKey(cur, []item{{Key: "a", Value: 9}}, itemKey)
		if len(got) != 2 {
			t.Fatalf("expected 2 items, got %d", len(got))
		}
		if got[0].Key != "a" || got[0].Value != 9 {
			t.Errorf("expected a=9 in place, got %+v", got[0])
		}
		if got[1].Key != "b" || got[1].Value != 2 {
			t.Errorf("expected b untouched, got %+v", got[1])
		}
	})

	t.Run("first-appearance order preserved across updates", func(t *testing.T) {
		cur := []item{{Key: "a"}, {Key: "b"}, {Key: "c"}}
		got := UpsertByKey(cur, []item{{Key: "c", Value: 1}, {Key: "a", Value: 2}, {Key: "d"}}, itemKey)
		wantOrder := []string{"a", "b", "c", "d"}
		for i, k := range wantOrder {
			if got[i].Key != k {
				t.Errorf("position %d: expected %q, got %q", i, k, got[i].Key)
			}
		}
	})

	t.Run("does not mutate current", func(t *testing.T) {
		cur := []item{{Key: "a", Value: 1}}
		_ = UpsertByKey(cur, []item{{Key: "a", Value: 9}}, itemKey)
		if cur[0].Value != 1 {
			t.Errorf("current slice mutated: %+v", cur)
		}
	})
}

func TestDeepCopy(t *testing.T) {
	type state struct {
		Items []item `json:"items"`
	}

	original := state{Items: []item{{Key: "a", Value: 1}}}
	copied, err := deepCopy(original)
	if err != nil {
		t.Fatalf("deepCopy failed: %v", err)
	}

	copied.Items[0].Value = 99
	if original.Items[0].Value != 1 {
		t.Error("mutating the copy changed the original")
	}
}
