package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name  string
		store models.Store
		want  string
	}{
		{"by exact name", models.Store{Name: "Smyths Toys", BaseURL: "https://example.com"}, "Smyths Toys"},
		{"name is case-insensitive", models.Store{Name: "amazon uk"}, "Amazon UK"},
		{"by host", models.Store{Name: "Pokemon", BaseURL: "https://www.pokemoncenter.com/en-gb"}, "Pokemon Center UK"},
		{"by subdomain", models.Store{Name: "Amz", BaseURL: "https://smile.amazon.co.uk"}, "Amazon UK"},
		{"host suffix must be a label", models.Store{Name: "Fake", BaseURL: "https://notamazon.co.uk"}, "Generic Marketplace"},
		{"unknown store", models.Store{Name: "ShopA", BaseURL: "https://shopa.example"}, "Generic Marketplace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.store).Name)
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Profile{
		Name:          "ShopA",
		Kind:          KindButton,
		Hosts:         []string{"WWW.ShopA.Example"},
		CartSelectors: []string{"#buy"},
	})
	require.NoError(t, err)

	p := r.Resolve(models.Store{Name: "Other", BaseURL: "https://shopa.example/x"})
	assert.Equal(t, "ShopA", p.Name)
	assert.Equal(t, []string{"shopa.example"}, p.Hosts)
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"builtin generic", GenericMarketplace(), false},
		{"missing name", Profile{Kind: KindButton, CartSelectors: []string{"#a"}}, true},
		{"unknown kind", Profile{Name: "x", Kind: "vibes"}, true},
		{"button without selectors", Profile{Name: "x", Kind: KindButton}, true},
		{"text without literal", Profile{Name: "x", Kind: KindText}, true},
		{"bad selector", Profile{Name: "x", Kind: KindButton, CartSelectors: []string{"button[["}}, true},
		{"too many attempts", Profile{Name: "x", Kind: KindText, StockText: "In Stock", MaxAttempts: 9}, true},
		{"contains pseudo", Profile{Name: "x", Kind: KindButton, CartSelectors: []string{"button:contains('Add to cart')"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidProfile)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("registers profiles", func(t *testing.T) {
		path := filepath.Join(dir, "profiles.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: Game Shop
    kind: button
    hosts: [gameshop.example]
    max_attempts: 2
    cart_selectors: ["#add-to-basket", "button.buy"]
    image_selectors: ["img.hero"]
  - name: Book Shop
    kind: marketplace
    hosts: [books.example]
    cart_selectors: ["#buy"]
    regions:
      availability: ["#stock"]
    out_of_stock_keywords: ["sold out"]
    in_stock_keywords: ["available"]
    low_stock_max: 5
`), 0o644))

		r := NewRegistry()
		n, err := r.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		game := r.Resolve(models.Store{Name: "GS", BaseURL: "https://gameshop.example"})
		assert.Equal(t, "Game Shop", game.Name)
		assert.Equal(t, 2, game.MaxAttempts)
		assert.Equal(t, []string{"#add-to-basket", "button.buy"}, game.CartSelectors)

		books := r.Resolve(models.Store{Name: "Book Shop"})
		assert.Equal(t, KindMarketplace, books.Kind)
		assert.Equal(t, 5, books.lowStockMax())
		assert.Len(t, r.Profiles(), 5)
	})

	t.Run("invalid profile registers nothing", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: Good
    kind: text
    stock_text: Available
  - name: Bad
    kind: button
    cart_selectors: ["div[["]
`), 0o644))

		r := NewRegistry()
		_, err := r.LoadFile(path)
		assert.ErrorIs(t, err, ErrInvalidProfile)
		assert.Equal(t, "Generic Marketplace", r.Resolve(models.Store{Name: "Good"}).Name)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewRegistry().LoadFile(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})
}
