package quiethours

import (
	"testing"
	"time"
)

func mustGuard(t *testing.T, start, end string) *Guard {
	t.Helper()
	g, err := New(start, end, time.UTC)
	if err != nil {
		t.Fatalf("New(%q, %q): %v", start, end, err)
	}
	return g
}

func TestIsQuiet_Wraparound(t *testing.T) {
	g := mustGuard(t, "22:00", "06:00")

	tests := []struct {
		local string
		want  bool
	}{
		{"23:30", true},
		{"02:00", true},
		{"22:00", true},
		{"06:00", false},
		{"12:00", false},
		{"21:59", false},
		{"05:59:30", true},
	}
	for _, tt := range tests {
		if got := g.IsQuiet(tt.local); got != tt.want {
			t.Errorf("IsQuiet(%q) = %v, want %v", tt.local, got, tt.want)
		}
	}
}

func TestIsQuiet_SameDayWindow(t *testing.T) {
	g := mustGuard(t, "12:00", "14:00")

	if !g.IsQuiet("12:00") {
		t.Error("start boundary should be quiet")
	}
	if !g.IsQuiet("13:59") {
		t.Error("13:59 should be quiet")
	}
	if g.IsQuiet("14:00") {
		t.Error("end boundary is exclusive")
	}
	if g.IsQuiet("09:00") {
		t.Error("09:00 should not be quiet")
	}
}

func TestIsQuiet_FailOpen(t *testing.T) {
	g := mustGuard(t, "22:00", "06:00")

	for _, in := range []string{"", "late", "25:00", "23"} {
		if g.IsQuiet(in) {
			t.Errorf("IsQuiet(%q) = true, want false", in)
		}
	}
}

func TestIsQuiet_EqualBoundariesNeverQuiet(t *testing.T) {
	g := mustGuard(t, "08:00", "08:00")
	for _, in := range []string{"07:59", "08:00", "20:00"} {
		if g.IsQuiet(in) {
			t.Errorf("IsQuiet(%q) = true for empty window", in)
		}
	}
}

func TestNew_InvalidBoundary(t *testing.T) {
	if _, err := New("9pm", "06:00", nil); err == nil {
		t.Error("expected error for invalid start")
	}
	if _, err := New("22:00", "06:60", nil); err == nil {
		t.Error("expected error for invalid end")
	}
}

func TestNextWindow(t *testing.T) {
	g := mustGuard(t, "22:00", "06:00")

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before end today",
			now:  time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC),
			want: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "after end rolls to tomorrow",
			now:  time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC),
			want: time.Date(2024, 6, 2, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at end rolls to tomorrow",
			now:  time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC),
			want: time.Date(2024, 6, 2, 6, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.NextWindow(tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextWindow(%v) = %v, want %v", tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("NextWindow must be strictly after now")
			}
		})
	}
}

func TestNextWindow_UsesGuardLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	g, err := New("22:00", "06:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	// 03:00 UTC is 05:00 local; window ends at 06:00 local = 04:00 UTC.
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	want := time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC)
	if got := g.NextWindow(now); !got.Equal(want) {
		t.Errorf("NextWindow = %v, want %v", got, want)
	}
}
