package entity

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: "fixture:12", want: FixtureID(12)},
		{in: "group:3", want: GroupID(3)},
		{in: "fixture", wantErr: true},
		{in: "lamp:1", wantErr: true},
		{in: "fixture:abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, id := range []ID{FixtureID(1), GroupID(42)} {
		got, err := Parse(id.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", id.String(), err)
		}
		if got != id {
			t.Errorf("round trip %v -> %q -> %v", id, id.String(), got)
		}
	}
}

func TestScaleConversions(t *testing.T) {
	if got := WireToInternal(0.5); got != 500 {
		t.Errorf("WireToInternal(0.5) = %d, want 500", got)
	}
	if got := WireToInternal(1.5); got != 1000 {
		t.Errorf("WireToInternal clamps above 1.0, got %d", got)
	}
	if got := InternalToWire(800); got != 0.8 {
		t.Errorf("InternalToWire(800) = %v, want 0.8", got)
	}
	if got := InternalToDisplay(455); got != 45.5 {
		t.Errorf("InternalToDisplay(455) = %v, want 45.5", got)
	}
	if got := DisplayToInternal(45.5); got != 455 {
		t.Errorf("DisplayToInternal(45.5) = %d, want 455", got)
	}
	if got := DisplayToWire(80); got != 0.8 {
		t.Errorf("DisplayToWire(80) = %v, want 0.8", got)
	}
	if got := DisplayToWire(-5); got != 0 {
		t.Errorf("DisplayToWire clamps below 0, got %v", got)
	}
}
