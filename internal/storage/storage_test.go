package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

func newTestStore(t *testing.T) (*ConfigStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	cs, err := NewConfigStore(path, nil)
	require.NoError(t, err)
	return cs, path
}

func readRaw(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestNewConfigStore_CreatesDefaultFile(t *testing.T) {
	_, path := newTestStore(t)

	raw := readRaw(t, path)
	assert.Equal(t, map[string]any{}, raw["stores"])
	assert.Equal(t, map[string]any{}, raw["items"])
	assert.Nil(t, raw["channel_id"])
	assert.Contains(t, raw, "channel_id")
}

func TestConfigStore_PersistedSchema(t *testing.T) {
	cs, path := newTestStore(t)

	require.NoError(t, cs.SetChannel("12345"))
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/widget", "ShopA"))

	raw := readRaw(t, path)
	assert.Equal(t, "12345", raw["channel_id"])
	assert.Equal(t, map[string]any{"ShopA": "https://shopa.example"}, raw["stores"])
	assert.Equal(t, map[string]any{
		"Widget": map[string]any{
			"url":            "https://shopa.example/widget",
			"store":          "ShopA",
			"last_status":    nil,
			"last_low_stock": nil,
		},
	}, raw["items"])

	_, err := os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file should be renamed away")
}

func TestConfigStore_ReloadRoundTrip(t *testing.T) {
	cs, path := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/widget", "ShopA"))
	require.NoError(t, cs.UpdateItem("Widget", func(item *models.Item) (bool, error) {
		item.LastStatus = models.StatusPtr(models.StatusInStock)
		item.LastLowStock = models.BoolPtr(true)
		return true, nil
	}))

	reloaded, err := NewConfigStore(path, nil)
	require.NoError(t, err)

	item, ok := reloaded.Item("Widget")
	require.True(t, ok)
	assert.Equal(t, "Widget", item.Name)
	assert.True(t, item.WasInStock())
	assert.True(t, item.WasLowStock())
}

func TestConfigStore_AddItemErrors(t *testing.T) {
	cs, _ := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/widget", "ShopA"))

	tests := []struct {
		name  string
		item  string
		url   string
		store string
		check func(error) bool
	}{
		{"unknown store", "Gadget", "https://shopb.example/g", "ShopB", IsInvalid},
		{"duplicate item", "Widget", "https://shopa.example/other", "ShopA", IsConflict},
		{"bad url", "Gizmo", "not a url", "ShopA", IsInvalid},
		{"empty name", " ", "https://shopa.example/x", "ShopA", IsInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cs.AddItem(tt.item, tt.url, tt.store)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			assert.Len(t, cs.Items(), 1)
		})
	}

	item, _ := cs.Item("Widget")
	assert.Equal(t, "https://shopa.example/widget", item.URL)
}

func TestConfigStore_DuplicateStore(t *testing.T) {
	cs, _ := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))

	err := cs.AddStore("ShopA", "https://elsewhere.example")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	store, _ := cs.Store("ShopA")
	assert.Equal(t, "https://shopa.example", store.BaseURL)
}

func TestConfigStore_RemoveStoreCascades(t *testing.T) {
	cs, path := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddStore("ShopB", "https://shopb.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/w", "ShopA"))
	require.NoError(t, cs.AddItem("Gadget", "https://shopa.example/g", "ShopA"))
	require.NoError(t, cs.AddItem("Gizmo", "https://shopb.example/z", "ShopB"))

	removed, err := cs.RemoveStore("ShopA")
	require.NoError(t, err)
	assert.Equal(t, []string{"Gadget", "Widget"}, removed)

	items := cs.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Gizmo", items[0].Name)

	raw := readRaw(t, path)
	assert.NotContains(t, raw["stores"], "ShopA")
	assert.NotContains(t, raw["items"], "Widget")
}

func TestConfigStore_RemoveMissingMutatesNothing(t *testing.T) {
	cs, path := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/w", "ShopA"))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = cs.RemoveStore("Nope")
	assert.True(t, IsNotFound(err))

	err = cs.RemoveItem("Nope")
	assert.True(t, IsNotFound(err))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Len(t, cs.Stores(), 1)
	assert.Len(t, cs.Items(), 1)
}

func TestConfigStore_UpdateItem(t *testing.T) {
	cs, _ := newTestStore(t)
	require.NoError(t, cs.AddStore("ShopA", "https://shopa.example"))
	require.NoError(t, cs.AddItem("Widget", "https://shopa.example/w", "ShopA"))

	t.Run("no change leaves state", func(t *testing.T) {
		require.NoError(t, cs.UpdateItem("Widget", func(item *models.Item) (bool, error) {
			item.LastStatus = models.StatusPtr(models.StatusInStock)
			return false, nil
		}))
		item, _ := cs.Item("Widget")
		assert.Nil(t, item.LastStatus)
	})

	t.Run("error leaves state", func(t *testing.T) {
		boom := errors.New("boom")
		err := cs.UpdateItem("Widget", func(item *models.Item) (bool, error) {
			item.LastStatus = models.StatusPtr(models.StatusOutOfStock)
			return true, boom
		})
		assert.ErrorIs(t, err, boom)
		item, _ := cs.Item("Widget")
		assert.Nil(t, item.LastStatus)
	})

	t.Run("missing item", func(t *testing.T) {
		err := cs.UpdateItem("Nope", func(*models.Item) (bool, error) { return true, nil })
		assert.True(t, IsNotFound(err))
	})

	t.Run("returned copies are detached", func(t *testing.T) {
		item, _ := cs.Item("Widget")
		item.LastStatus = models.StatusPtr(models.StatusInStock)

		again, _ := cs.Item("Widget")
		assert.Nil(t, again.LastStatus)
	})
}

func TestConfigStore_ChannelBinding(t *testing.T) {
	cs, _ := newTestStore(t)

	_, ok := cs.ChannelID()
	assert.False(t, ok)

	assert.True(t, IsInvalid(cs.SetChannel("  ")))

	require.NoError(t, cs.SetChannel("998877"))
	id, ok := cs.ChannelID()
	assert.True(t, ok)
	assert.Equal(t, "998877", id)
}

func TestConfigStore_LoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewConfigStore(path, nil)
	assert.Error(t, err)
}
