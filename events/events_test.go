package events

import (
	"testing"
	"time"
)

func TestTripFeed(t *testing.T) {
	feed := NewTripFeed()
	ch := make(chan TripEvent, 1)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()

	n := feed.Send(TripEvent{Kind: TripStarted, UserID: "rye", TripID: "t1", Time: time.Now()})
	if n != 1 {
		t.Fatalf("have %d subscribers want 1", n)
	}
	got := <-ch
	if got.Kind != TripStarted || got.TripID != "t1" {
		t.Errorf("have %+v", got)
	}
}
