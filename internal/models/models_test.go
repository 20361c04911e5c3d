package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCloneKeepsEmptyListsEmpty(t *testing.T) {
	r := &Ride{ID: "r1", RejectedBy: []string{}, Passengers: []Passenger{}}
	b, err := json.Marshal(r.Clone())
	if err != nil {
		t.Fatal(err)
	}
	body := string(b)
	if !strings.Contains(body, `"rejected_by":[]`) || !strings.Contains(body, `"passengers":[]`) {
		t.Fatalf("empty lists should stay empty arrays, got %s", body)
	}
}

func TestCloneDoesNotShareState(t *testing.T) {
	now := time.Now()
	rating := 4
	r := &Ride{
		ID:         "r1",
		RejectedBy: []string{"a"},
		Passengers: []Passenger{{Name: "Ada"}},
		AcceptedAt: &now,
		Rating:     &rating,
	}
	c := r.Clone()
	c.RejectedBy[0] = "b"
	c.Passengers[0].Name = "Bo"
	*c.AcceptedAt = now.Add(time.Hour)
	*c.Rating = 1
	if r.RejectedBy[0] != "a" || r.Passengers[0].Name != "Ada" || !r.AcceptedAt.Equal(now) || *r.Rating != 4 {
		t.Fatalf("clone mutated the original: %+v", r)
	}
	if (*Ride)(nil).Clone() != nil {
		t.Fatalf("nil clone should be nil")
	}
}
