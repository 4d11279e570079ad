package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

type Kind string

const (
	// KindButton decides on the presence of an add-to-cart control.
	KindButton Kind = "button"
	// KindText looks for a literal in the visible page text, ignoring case.
	KindText Kind = "text"
	// KindMarketplace reads availability, delivery and seller regions.
	KindMarketplace Kind = "marketplace"
)

var ErrInvalidProfile = errors.New("invalid store profile")

// Regions lists selector candidates per text region, tried in order until
// one yields non-empty text.
type Regions struct {
	Availability []string `yaml:"availability"`
	Delivery     []string `yaml:"delivery"`
	Seller       []string `yaml:"seller"`
}

type Profile struct {
	Name  string   `yaml:"name"`
	Kind  Kind     `yaml:"kind"`
	Hosts []string `yaml:"hosts"`
	// MaxAttempts of zero defers to the controller default.
	MaxAttempts int `yaml:"max_attempts"`

	CartSelectors  []string `yaml:"cart_selectors"`
	StockText      string   `yaml:"stock_text"`
	ImageSelectors []string `yaml:"image_selectors"`

	Regions            Regions  `yaml:"regions"`
	OutOfStockKeywords []string `yaml:"out_of_stock_keywords"`
	InStockKeywords    []string `yaml:"in_stock_keywords"`
	// LowStockMax is the largest N in "only N left in stock" that counts as low stock.
	LowStockMax int `yaml:"low_stock_max"`
}

func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.MaxAttempts < 0 || p.MaxAttempts > 5 {
		return fmt.Errorf("%w: %s: max_attempts must be between 1 and 5", ErrInvalidProfile, p.Name)
	}

	switch p.Kind {
	case KindButton:
		if len(p.CartSelectors) == 0 {
			return fmt.Errorf("%w: %s: button profile needs cart_selectors", ErrInvalidProfile, p.Name)
		}
	case KindText:
		if p.StockText == "" {
			return fmt.Errorf("%w: %s: text profile needs stock_text", ErrInvalidProfile, p.Name)
		}
	case KindMarketplace:
		if len(p.Regions.Availability)+len(p.Regions.Delivery)+len(p.Regions.Seller) == 0 && len(p.CartSelectors) == 0 {
			return fmt.Errorf("%w: %s: marketplace profile needs regions or cart_selectors", ErrInvalidProfile, p.Name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidProfile, p.Name, p.Kind)
	}

	for _, sel := range p.selectors() {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("%w: %s: selector %q: %v", ErrInvalidProfile, p.Name, sel, err)
		}
	}
	return nil
}

func (p *Profile) selectors() []string {
	var all []string
	all = append(all, p.CartSelectors...)
	all = append(all, p.ImageSelectors...)
	all = append(all, p.Regions.Availability...)
	all = append(all, p.Regions.Delivery...)
	all = append(all, p.Regions.Seller...)
	return all
}

func (p *Profile) lowStockMax() int {
	if p.LowStockMax <= 0 {
		return 15
	}
	return p.LowStockMax
}

var marketplaceRegions = Regions{
	Availability: []string{
		"#availability",
		"#outOfStock",
		"#availability_feature_div",
		"#availabilityInsideBuyBox_feature_div",
	},
	Delivery: []string{
		"#mir-layout-DELIVERY_BLOCK",
		"#deliveryBlockMessage",
		"#delivery-message",
		"#ddmDeliveryMessage",
	},
	Seller: []string{
		"#merchant-info",
		"#merchantInfoFeature_feature_div",
		"#tabular-buybox",
		"#sellerProfileTriggerId",
	},
}

var marketplaceOutOfStock = []string{
	"currently unavailable",
	"out of stock",
	"temporarily out of stock",
	"this item is not available",
	"we don't know when or if this item will be back in stock",
	"sign up to be notified when this item becomes available",
	"no featured offers available",
}

var marketplaceInStock = []string{
	"in stock",
	"ships from",
	"dispatched from",
	"fulfilled by amazon",
	"usually dispatched within",
}

func amazonUK() Profile {
	return Profile{
		Name:               "Amazon UK",
		Kind:               KindMarketplace,
		Hosts:              []string{"amazon.co.uk"},
		MaxAttempts:        3,
		CartSelectors:      []string{"#add-to-cart-button", "#buy-now-button"},
		ImageSelectors:     []string{"#landingImage", "#imgBlkFront", "#main-image-container img"},
		Regions:            marketplaceRegions,
		OutOfStockKeywords: marketplaceOutOfStock,
		InStockKeywords:    marketplaceInStock,
		LowStockMax:        15,
	}
}

// GenericMarketplace is applied to stores no profile claims.
func GenericMarketplace() Profile {
	p := amazonUK()
	p.Name = "Generic Marketplace"
	p.Hosts = nil
	p.MaxAttempts = 0
	return p
}

func builtinProfiles() []Profile {
	return []Profile{
		{
			Name:           "Pokemon Center UK",
			Kind:           KindButton,
			Hosts:          []string{"pokemoncenter.com"},
			MaxAttempts:    3,
			CartSelectors:  []string{"button.add-to-cart"},
			ImageSelectors: []string{"img.product-image"},
		},
		{
			Name:           "Smyths Toys",
			Kind:           KindText,
			Hosts:          []string{"smythstoys.com"},
			MaxAttempts:    2,
			StockText:      "In Stock",
			ImageSelectors: []string{"img[data-main-image]"},
		},
		amazonUK(),
	}
}
