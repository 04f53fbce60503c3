package sheet

import (
	"testing"
	"time"
)

func TestResolveDateTextLayouts(t *testing.T) {
	t.Parallel()
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
	}{
		{name: "iso", raw: "2024-03-05"},
		{name: "dotted", raw: "05.03.2024"},
		{name: "slashed dmy", raw: "05/03/2024"},
		{name: "slashed ymd", raw: "2024/03/05"},
		{name: "datetime T", raw: "2024-03-05T14:30:00"},
		{name: "datetime space", raw: "2024-03-05 14:30:00"},
		{name: "padded", raw: "  2024-03-05  "},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveDate(tt.raw)
			if !ok {
				t.Fatalf("ResolveDate(%q) not ok", tt.raw)
			}
			if !SameDay(got, want) {
				t.Fatalf("ResolveDate(%q) = %v, want same day as %v", tt.raw, got, want)
			}
		})
	}
}

func TestResolveDateSerial(t *testing.T) {
	t.Parallel()
	// 45356 is 2024-03-05 in spreadsheet serial form.
	got, ok := ResolveDate(float64(45356))
	if !ok {
		t.Fatal("serial not resolved")
	}
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !SameDay(got, want) {
		t.Fatalf("serial 45356 = %v, want %v", got, want)
	}

	// Fractional part is the time of day; the calendar day must not shift.
	got, ok = ResolveDate(45356.75)
	if !ok || !SameDay(got, want) {
		t.Fatalf("serial 45356.75 = %v (ok=%v), want same day as %v", got, ok, want)
	}
}

func TestResolveDateSerialAndTextAgree(t *testing.T) {
	t.Parallel()
	fromText, ok := ResolveDate("2024-03-05")
	if !ok {
		t.Fatal("text not resolved")
	}
	fromSerial, ok := ResolveDate(45356)
	if !ok {
		t.Fatal("serial not resolved")
	}
	if !SameDay(fromText, fromSerial) {
		t.Fatalf("text %v and serial %v disagree", fromText, fromSerial)
	}
}

func TestResolveDateInvalid(t *testing.T) {
	t.Parallel()
	invalid := []any{
		"", "   ", "not a date", "32.13.2024",
		float64(0), float64(-3), float64(2958466), // out of serial range
		nil, true, []string{"2024-03-05"},
	}
	for _, v := range invalid {
		if _, ok := ResolveDate(v); ok {
			t.Fatalf("ResolveDate(%#v) unexpectedly ok", v)
		}
	}
}

func TestSameDay(t *testing.T) {
	t.Parallel()
	a := time.Date(2024, 3, 5, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 5, 0, 1, 0, 0, time.UTC)
	if !SameDay(a, b) {
		t.Fatal("same calendar day not detected")
	}
	if SameDay(a, b.AddDate(0, 0, 1)) {
		t.Fatal("different days reported equal")
	}
}
