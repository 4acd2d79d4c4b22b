package textutil

import (
	"reflect"
	"testing"
)

func TestPlainText(t *testing.T) {
	cases := map[string]struct {
		in   string
		max  int
		want string
	}{
		"strips tags":       {in: `<b>Juan</b> <script>alert(1)</script>dela Cruz`, want: "Juan dela Cruz"},
		"decodes entities":  {in: "Tom &amp; Jerry", want: "Tom & Jerry"},
		"collapses spaces":  {in: "  Ana \n\t Reyes  ", want: "Ana Reyes"},
		"truncates runes":   {in: "山田太郎さん", max: 4, want: "山田太郎"},
		"keeps plain input": {in: "Maria Santos", max: 80, want: "Maria Santos"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := PlainText(tc.in, tc.max); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCleanMetadata(t *testing.T) {
	got := CleanMetadata(map[string]string{
		" booking_id ": " bk_1 ",
		"travel_date":  " ",
		"":             "ignored",
	})
	want := map[string]string{"booking_id": "bk_1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if CleanMetadata(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}
