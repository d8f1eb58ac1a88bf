package conceptual

import "testing"

func TestUserID_Empty(t *testing.T) {
	if !UserID("").Empty() {
		t.Error("want empty")
	}
	if UserID("rye").Empty() {
		t.Error("want not empty")
	}
	if TripID("rye-1").String() != "rye-1" {
		t.Errorf("have %s want rye-1", TripID("rye-1"))
	}
}
