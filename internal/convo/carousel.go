package convo

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/philiapseudo-collab/dumu-apparels/internal/ig"
	"github.com/philiapseudo-collab/dumu-apparels/internal/repo"
)

const carouselLimit = 10

// FormatPrice renders a price with thousands separators and two
// decimal places, e.g. 4,500.00.
func FormatPrice(price decimal.Decimal) string {
	fixed := price.StringFixed(2)
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	negative := strings.HasPrefix(intPart, "-")
	if negative {
		intPart = intPart[1:]
	}

	var builder strings.Builder
	for i, digit := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			builder.WriteByte(',')
		}
		builder.WriteRune(digit)
	}

	grouped := builder.String()
	if negative {
		grouped = "-" + grouped
	}
	return grouped + "." + fracPart
}

func productSubtitle(p repo.Product) string {
	subtitle := fmt.Sprintf("KES %s", FormatPrice(p.Price))
	if len(p.Sizes) > 0 {
		subtitle += " | Sizes: " + strings.Join(p.Sizes, ", ")
	}
	return subtitle
}

// BuildCarouselElements maps products onto showroom cards, capped at
// the platform carousel limit. Products without an image are skipped
// since the template rejects cards with an empty image URL.
func BuildCarouselElements(products []repo.Product) []ig.CarouselElement {
	elements := make([]ig.CarouselElement, 0, len(products))
	for _, p := range products {
		if strings.TrimSpace(p.ImageURL) == "" {
			continue
		}
		if len(elements) == carouselLimit {
			break
		}
		elements = append(elements, ig.CarouselElement{
			Title:    p.Name,
			Subtitle: productSubtitle(p),
			ImageURL: p.ImageURL,
			Buttons: []ig.Button{
				{Title: "Buy Now 🛍️", Payload: fmt.Sprintf("BUY_%d", p.ID)},
			},
		})
	}
	return elements
}
