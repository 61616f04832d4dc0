package alerts

import (
	"testing"
	"time"

	"igma/internal/model"
)

func TestStoreRing(t *testing.T) {
	s := NewStore(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	subjects := []string{"a", "b", "a", "c"}
	for i, subj := range subjects {
		s.Add(model.Alert{Timestamp: base.Add(time.Duration(i) * time.Hour), Subject: subj, Code: model.AlertRABlocksOE})
	}

	all := s.Query(Filter{})
	if len(all) != 3 || all[0].Subject != "b" || all[2].Subject != "c" {
		t.Fatalf("ring order wrong: %+v", all)
	}
	if last := s.Query(Filter{Limit: 1}); len(last) != 1 || last[0].Subject != "c" {
		t.Fatalf("limit 1 = %+v", last)
	}
	if since := s.Query(Filter{Since: base.Add(2 * time.Hour)}); len(since) != 2 {
		t.Fatalf("since = %+v", since)
	}
	if got := s.Query(Filter{Subject: "a"}); len(got) != 1 {
		t.Fatalf("subject a = %+v", got)
	}
	if got := s.Query(Filter{Since: base.Add(time.Hour), Limit: 1}); len(got) != 1 || got[0].Subject != "c" {
		t.Fatalf("limited = %+v", got)
	}
	s.Clear()
	if len(s.Query(Filter{})) != 0 {
		t.Fatalf("clear left alerts")
	}
}
