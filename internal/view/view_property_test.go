package view_test

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"solardesk/internal/domain"
	"solardesk/internal/view"
)

var companies = []string{"Tata Power Solar", "Adani Solar", "Vikram Solar", "Waaree", "Luminous"}

func genCustomers(t *rapid.T) []domain.Customer {
	n := rapid.IntRange(0, 25).Draw(t, "n")
	out := make([]domain.Customer, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Customer{
			ID:           fmt.Sprintf("c%d", i),
			Name:         rapid.StringMatching(`[A-Za-z ]{2,12}`).Draw(t, fmt.Sprintf("name_%d", i)),
			Phone:        rapid.StringMatching(`\+91 [0-9]{5} [0-9]{5}`).Draw(t, fmt.Sprintf("phone_%d", i)),
			KWSize:       float64(rapid.IntRange(1, 40).Draw(t, fmt.Sprintf("kw_%d", i))) / 2,
			PanelCompany: rapid.SampledFrom(companies).Draw(t, fmt.Sprintf("company_%d", i)),
			Stage:        rapid.SampledFrom(domain.Stages).Draw(t, fmt.Sprintf("stage_%d", i)),
		})
	}
	return out
}

func genFilter(t *rapid.T) domain.FilterState {
	var f domain.FilterState
	if rapid.Bool().Draw(t, "hasCompany") {
		f.PanelCompany = rapid.SampledFrom(append([]string{domain.FilterAll}, companies...)).Draw(t, "company")
	}
	if rapid.Bool().Draw(t, "hasKW") {
		lo := float64(rapid.IntRange(0, 40).Draw(t, "lo")) / 2
		hi := float64(rapid.IntRange(0, 40).Draw(t, "hi")) / 2
		f.MinKW, f.MaxKW = &lo, &hi
	}
	if rapid.Bool().Draw(t, "hasStage") {
		f.Stage = rapid.SampledFrom(append([]domain.Stage{domain.FilterAll}, domain.Stages...)).Draw(t, "stage")
	}
	return f
}

func satisfies(c domain.Customer, f domain.FilterState) bool {
	if f.PanelCompany != "" && f.PanelCompany != domain.FilterAll && c.PanelCompany != f.PanelCompany {
		return false
	}
	if f.MinKW != nil && f.MaxKW != nil && (c.KWSize < *f.MinKW || c.KWSize > *f.MaxKW) {
		return false
	}
	if f.Stage != "" && f.Stage != domain.FilterAll && c.Stage != f.Stage {
		return false
	}
	return true
}

func TestFilterCustomersSoundAndComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genCustomers(t)
		f := genFilter(t)
		got := view.FilterCustomers(in, f)

		var want []domain.Customer
		for _, c := range in {
			if satisfies(c, f) {
				want = append(want, c)
			}
		}
		if len(got) != len(want) {
			t.Fatalf("got %d customers, want %d", len(got), len(want))
		}
		for i := range got {
			if got[i].ID != want[i].ID {
				t.Fatalf("position %d: got %s, want %s", i, got[i].ID, want[i].ID)
			}
		}
	})
}

func TestFilterCustomersEmptyFilterProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genCustomers(t)
		got := view.FilterCustomers(in, domain.FilterState{})
		if len(got) != len(in) {
			t.Fatalf("identity violated: %d != %d", len(got), len(in))
		}
		for i := range in {
			if got[i].ID != in[i].ID {
				t.Fatalf("order changed at %d", i)
			}
		}
	})
}

func TestSortTasksStableProperty(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		in := make([]domain.Task, 0, n)
		for i := 0; i < n; i++ {
			in = append(in, domain.Task{
				ID:       fmt.Sprintf("t%d", i),
				Priority: rapid.SampledFrom([]domain.Priority{domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow}).Draw(t, fmt.Sprintf("p_%d", i)),
				Deadline: base.Add(time.Duration(rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("d_%d", i))) * time.Hour),
			})
		}
		key := rapid.SampledFrom([]domain.SortKey{domain.SortByDeadline, domain.SortByPriority}).Draw(t, "key")
		got := view.SortTasks(in, key)
		if len(got) != len(in) {
			t.Fatalf("length changed")
		}
		position := map[string]int{}
		for i, task := range in {
			position[task.ID] = i
		}
		for i := 1; i < len(got); i++ {
			a, b := got[i-1], got[i]
			var ka, kb int64
			if key == domain.SortByPriority {
				ka, kb = int64(a.Priority.Rank()), int64(b.Priority.Rank())
			} else {
				ka, kb = a.Deadline.UnixNano(), b.Deadline.UnixNano()
			}
			if ka > kb {
				t.Fatalf("not sorted at %d", i)
			}
			if ka == kb && position[a.ID] > position[b.ID] {
				t.Fatalf("equal keys reordered: %s before %s", a.ID, b.ID)
			}
		}
	})
}

func TestSearchCustomersShortQueryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genCustomers(t)
		q := rapid.StringMatching(`.?`).Draw(t, "q")
		if got := view.SearchCustomers(in, q); len(got) != 0 {
			t.Fatalf("query %q returned %d results", q, len(got))
		}
	})
}
