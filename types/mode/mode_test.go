package mode

import "testing"

func TestFromString(t *testing.T) {
	for m := Unknown; m <= Stationary; m++ {
		got, err := FromString(m.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != m {
			t.Errorf("have %v want %v", got, m)
		}
	}
	if _, err := FromString("hovercraft"); err == nil {
		t.Error("expected error")
	}
}
