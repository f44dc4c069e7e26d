package textutil

import (
	"reflect"
	"testing"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		max   int
		want  string
	}{
		{"plain", "  too   small  ", 0, "too small"},
		{"markup", `<b>wrong</b> size<script>alert(1)</script>`, 0, "wrong size"},
		{"entities", "fits &amp; looks fine", 0, "fits & looks fine"},
		{"clipped", "colour differs from photo", 6, "colour"},
		{"multibyte", "रंग अलग है", 3, "रंग"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanText(tc.input, tc.max); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCleanAttributes(t *testing.T) {
	t.Run("trims and drops blanks", func(t *testing.T) {
		input := map[string]string{
			" orderId ": " ord_1 ",
			"status":    "confirmed",
			"empty":     " ",
			" ":         "ignored",
		}
		expected := map[string]string{
			"orderId": "ord_1",
			"status":  "confirmed",
		}
		if actual := CleanAttributes(input, 0); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("clips on rune boundary", func(t *testing.T) {
		got := CleanAttributes(map[string]string{"k": "héllo"}, 2)
		if got["k"] != "h" {
			t.Fatalf("expected clip before multibyte rune, got %q", got["k"])
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if CleanAttributes(nil, 0) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if CleanAttributes(map[string]string{"a": ""}, 0) != nil {
			t.Fatalf("expected nil when every entry is dropped")
		}
	})
}
