package labels

import (
	"reflect"
	"testing"
)

func testAssets() *Assets {
	return New([]Asset{
		{Label: "강아지상", Display: "강아지형", Image: "강아지상.png"},
		{Label: "고양이상", Display: "고양이형", Image: "고양이상.png"},
		{Label: "여우상", Display: "여우형", Image: "여우상.png"},
		{Label: "하마상", Display: "하마형", Image: "하마상.png"},
	})
}

func TestLookup_Known(t *testing.T) {
	a := testAssets()
	got := a.Lookup("고양이상")
	if got.Display != "고양이형" {
		t.Errorf("Display = %q, want %q", got.Display, "고양이형")
	}
	if got.Image != "고양이상.png" {
		t.Errorf("Image = %q, want %q", got.Image, "고양이상.png")
	}
}

func TestLookup_UnknownFallsBackToRawLabel(t *testing.T) {
	a := testAssets()
	got := a.Lookup("곰상")
	if got.Display != "곰상" {
		t.Errorf("Display = %q, want raw label", got.Display)
	}
	if got.Image != "" {
		t.Errorf("Image = %q, want empty", got.Image)
	}
}

func TestLookup_EmptyDisplayUsesLabel(t *testing.T) {
	a := New([]Asset{{Label: "x", Image: "x.png"}})
	if got := a.Lookup("x").Display; got != "x" {
		t.Errorf("Display = %q, want %q", got, "x")
	}
}

func TestKeys_ConfigOrder(t *testing.T) {
	a := testAssets()
	want := []string{"강아지상", "고양이상", "여우상", "하마상"}
	if got := a.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestNew_DuplicateKeepsFirstPosition(t *testing.T) {
	a := New([]Asset{
		{Label: "a", Display: "A1"},
		{Label: "b", Display: "B"},
		{Label: "a", Display: "A2"},
		{Label: ""},
	})
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}
	if got := a.Keys(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Keys() = %v", got)
	}
	if got := a.Lookup("a").Display; got != "A2" {
		t.Errorf("Display = %q, want A2", got)
	}
}

func TestMissing(t *testing.T) {
	a := testAssets()
	got := a.Missing([]string{"강아지상", "곰상"})
	if !reflect.DeepEqual(got, []string{"곰상"}) {
		t.Errorf("Missing() = %v, want [곰상]", got)
	}
}

func TestImageURL(t *testing.T) {
	cases := []struct {
		prefix string
		asset  Asset
		want   string
	}{
		{"/images", Asset{Image: "a.png"}, "/images/a.png"},
		{"images/", Asset{Image: "a.png"}, "/images/a.png"},
		{"/images", Asset{}, ""},
	}
	for _, tc := range cases {
		if got := ImageURL(tc.prefix, tc.asset); got != tc.want {
			t.Errorf("ImageURL(%q, %+v) = %q, want %q", tc.prefix, tc.asset, got, tc.want)
		}
	}
}
