package convo

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"4500", "4,500.00"},
		{"999.5", "999.50"},
		{"1234567.89", "1,234,567.89"},
		{"0", "0.00"},
		{"100", "100.00"},
	}
	for _, tc := range cases {
		got := FormatPrice(decimal.RequireFromString(tc.in))
		if got != tc.want {
			t.Fatalf("FormatPrice(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProductSubtitle(t *testing.T) {
	p := repo.Product{
		Price: decimal.RequireFromString("3500"),
		Sizes: []string{"40", "41", "42"},
	}
	got := productSubtitle(p)
	want := "KES 3,500.00 | Sizes: 40, 41, 42"
	if got != want {
		t.Fatalf("subtitle = %q, want %q", got, want)
	}

	p.Sizes = nil
	got = productSubtitle(p)
	if got != "KES 3,500.00" {
		t.Fatalf("subtitle without sizes = %q", got)
	}
}

func TestBuildCarouselElements(t *testing.T) {
	products := make([]repo.Product, 0, 12)
	for i := 1; i <= 12; i++ {
		products = append(products, repo.Product{
			ID:       int64(i),
			Name:     fmt.Sprintf("Item %d", i),
			Price:    decimal.RequireFromString("1000"),
			ImageURL: "https://cdn.example.com/item.jpg",
			Sizes:    []string{"M"},
		})
	}

	elements := BuildCarouselElements(products)
	if len(elements) != carouselLimit {
		t.Fatalf("expected %d elements, got %d", carouselLimit, len(elements))
	}
	first := elements[0]
	if first.Title != "Item 1" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if len(first.Buttons) != 1 || first.Buttons[0].Payload != "BUY_1" {
		t.Fatalf("unexpected buttons %+v", first.Buttons)
	}
}

func TestBuildCarouselSkipsMissingImages(t *testing.T) {
	products := []repo.Product{
		{ID: 1, Name: "Pictured", Price: decimal.RequireFromString("1000"), ImageURL: "https://cdn.example.com/1.jpg"},
		{ID: 2, Name: "No image", Price: decimal.RequireFromString("1000")},
		{ID: 3, Name: "Pictured too", Price: decimal.RequireFromString("1000"), ImageURL: "https://cdn.example.com/3.jpg"},
	}

	elements := BuildCarouselElements(products)
	if len(elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elements))
	}
	if elements[0].Title != "Pictured" || elements[1].Title != "Pictured too" {
		t.Fatalf("unexpected elements %+v", elements)
	}
}
