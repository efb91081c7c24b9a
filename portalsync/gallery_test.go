package portalsync

import (
	"reflect"
	"testing"
)

func TestGalleryFolderToken(t *testing.T) {
	cases := []struct {
		url      string
		expected string
	}{
		{"https://cdn.e-leiloes.pt/storage/F1/img001.jpg", "F1"},
		{"https://cdn.e-leiloes.pt/storage/lots/F2/img.png", "F2"},
		{"/storage/F3/photo.jpg", "F3"},
		{"img.jpg", ""},
		{"", ""},
		{"https://cdn.e-leiloes.pt/", ""},
	}
	for _, tc := range cases {
		if got := galleryFolderToken(tc.url); got != tc.expected {
			t.Fatalf("galleryFolderToken(%q) expected %q, got %q", tc.url, tc.expected, got)
		}
	}
}

func TestFilterGalleryImages_FirstFolderWins(t *testing.T) {
	// The widget surfaced a cross-reference from another lot (F2) between
	// images of the lot's own folder (F1). Only F1 images survive, in order.
	in := []string{
		"https://cdn.e-leiloes.pt/storage/F1/a.jpg",
		"https://cdn.e-leiloes.pt/storage/F2/x.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/b.jpg",
		"https://cdn.e-leiloes.pt/storage/F3/y.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/c.jpg",
	}
	expected := []string{
		"https://cdn.e-leiloes.pt/storage/F1/a.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/b.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/c.jpg",
	}
	if got := filterGalleryImages(in); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestFilterGalleryImages_DropsDuplicatesAndBlanks(t *testing.T) {
	in := []string{
		"",
		"https://cdn.e-leiloes.pt/storage/F1/a.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/a.jpg",
		"  ",
		"https://cdn.e-leiloes.pt/storage/F1/b.jpg",
	}
	expected := []string{
		"https://cdn.e-leiloes.pt/storage/F1/a.jpg",
		"https://cdn.e-leiloes.pt/storage/F1/b.jpg",
	}
	if got := filterGalleryImages(in); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestFilterGalleryImages_Empty(t *testing.T) {
	if got := filterGalleryImages(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
