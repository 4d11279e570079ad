package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

// document mirrors the persisted file layout.
type document struct {
	Stores    map[string]string       `json:"stores"`
	Items     map[string]*models.Item `json:"items"`
	ChannelID *string                 `json:"channel_id"`
}

func emptyDocument() document {
	return document{
		Stores: make(map[string]string),
		Items:  make(map[string]*models.Item),
	}
}

// ConfigStore owns the stores, items and channel binding. Every mutation is
// flushed to disk before the lock is released.
type ConfigStore struct {
	mu       sync.RWMutex
	doc      document
	filename string
	logger   *slog.Logger
}

func NewConfigStore(filename string, logger *slog.Logger) (*ConfigStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cs := &ConfigStore{
		doc:      emptyDocument(),
		filename: filename,
		logger:   logger.With("component", "config_store"),
	}

	if err := cs.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cs.logger.Info("config file not found, creating default", "file", filename)
		if err := cs.save(); err != nil {
			return nil, err
		}
	}

	return cs, nil
}

func (cs *ConfigStore) Load() error {
	data, err := os.ReadFile(cs.filename)
	if err != nil {
		return err
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", cs.filename, err)
	}
	if doc.Stores == nil {
		doc.Stores = make(map[string]string)
	}
	if doc.Items == nil {
		doc.Items = make(map[string]*models.Item)
	}
	for name, item := range doc.Items {
		if item == nil {
			delete(doc.Items, name)
			continue
		}
		item.Name = name
	}

	cs.mu.Lock()
	cs.doc = doc
	cs.mu.Unlock()
	return nil
}

func (cs *ConfigStore) ChannelID() (string, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.doc.ChannelID == nil || *cs.doc.ChannelID == "" {
		return "", false
	}
	return *cs.doc.ChannelID, true
}

func (cs *ConfigStore) SetChannel(channelID string) error {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return invalid("setup", "channel", "channel id is required")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	prev := cs.doc.ChannelID
	cs.doc.ChannelID = &channelID
	if err := cs.save(); err != nil {
		cs.doc.ChannelID = prev
		return err
	}
	return nil
}

func (cs *ConfigStore) AddStore(name, baseURL string) error {
	name = strings.TrimSpace(name)
	baseURL = strings.TrimSpace(baseURL)
	if name == "" {
		return invalid("add_store", name, "store name is required")
	}
	if err := validateURL(baseURL); err != nil {
		return invalid("add_store", name, err.Error())
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.doc.Stores[name]; exists {
		return &ConfigError{Op: "add_store", Kind: KindDuplicate, Name: name}
	}

	cs.doc.Stores[name] = baseURL
	if err := cs.save(); err != nil {
		delete(cs.doc.Stores, name)
		return err
	}
	return nil
}

// RemoveStore deletes the store and every item that references it. It
// returns the names of the removed items.
func (cs *ConfigStore) RemoveStore(name string) ([]string, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	baseURL, exists := cs.doc.Stores[name]
	if !exists {
		return nil, &ConfigError{Op: "remove_store", Kind: KindNotFound, Name: name}
	}

	removed := make(map[string]*models.Item)
	for itemName, item := range cs.doc.Items {
		if item.Store == name {
			removed[itemName] = item
			delete(cs.doc.Items, itemName)
		}
	}
	delete(cs.doc.Stores, name)

	if err := cs.save(); err != nil {
		cs.doc.Stores[name] = baseURL
		for itemName, item := range removed {
			cs.doc.Items[itemName] = item
		}
		return nil, err
	}

	names := make([]string, 0, len(removed))
	for itemName := range removed {
		names = append(names, itemName)
	}
	sort.Strings(names)
	return names, nil
}

func (cs *ConfigStore) AddItem(name, itemURL, store string) error {
	name = strings.TrimSpace(name)
	itemURL = strings.TrimSpace(itemURL)
	if name == "" {
		return invalid("add_item", name, "item name is required")
	}
	if err := validateURL(itemURL); err != nil {
		return invalid("add_item", name, err.Error())
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.doc.Stores[store]; !exists {
		return &ConfigError{Op: "add_item", Kind: KindUnknownStore, Name: store}
	}
	if _, exists := cs.doc.Items[name]; exists {
		return &ConfigError{Op: "add_item", Kind: KindDuplicate, Name: name}
	}

	cs.doc.Items[name] = &models.Item{Name: name, URL: itemURL, Store: store}
	if err := cs.save(); err != nil {
		delete(cs.doc.Items, name)
		return err
	}
	return nil
}

func (cs *ConfigStore) RemoveItem(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	item, exists := cs.doc.Items[name]
	if !exists {
		return &ConfigError{Op: "remove_item", Kind: KindNotFound, Name: name}
	}

	delete(cs.doc.Items, name)
	if err := cs.save(); err != nil {
		cs.doc.Items[name] = item
		return err
	}
	return nil
}

// UpdateItem runs fn against a copy of the item under the write lock and
// persists the result when fn reports a change. The item is left untouched if
// fn or the flush fails.
func (cs *ConfigStore) UpdateItem(name string, fn func(item *models.Item) (bool, error)) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	current, exists := cs.doc.Items[name]
	if !exists {
		return &ConfigError{Op: "update_item", Kind: KindNotFound, Name: name}
	}

	next := cloneItem(current)
	changed, err := fn(next)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	next.Name = name
	cs.doc.Items[name] = next
	if err := cs.save(); err != nil {
		cs.doc.Items[name] = current
		return err
	}
	return nil
}

func (cs *ConfigStore) Store(name string) (models.Store, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	baseURL, ok := cs.doc.Stores[name]
	return models.Store{Name: name, BaseURL: baseURL}, ok
}

func (cs *ConfigStore) Item(name string) (models.Item, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	item, ok := cs.doc.Items[name]
	if !ok {
		return models.Item{}, false
	}
	return *cloneItem(item), true
}

// Stores returns all stores ordered by name.
func (cs *ConfigStore) Stores() []models.Store {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	stores := make([]models.Store, 0, len(cs.doc.Stores))
	for name, baseURL := range cs.doc.Stores {
		stores = append(stores, models.Store{Name: name, BaseURL: baseURL})
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].Name < stores[j].Name })
	return stores
}

// Items returns copies of all items ordered by store, then name.
func (cs *ConfigStore) Items() []models.Item {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	items := make([]models.Item, 0, len(cs.doc.Items))
	for _, item := range cs.doc.Items {
		items = append(items, *cloneItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Store != items[j].Store {
			return items[i].Store < items[j].Store
		}
		return items[i].Name < items[j].Name
	})
	return items
}

// Flush writes the current state regardless of pending changes. Used on
// shutdown.
func (cs *ConfigStore) Flush() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.save()
}

func (cs *ConfigStore) save() error {
	data, err := json.MarshalIndent(cs.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := cs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tmpFile, cs.filename); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func cloneItem(item *models.Item) *models.Item {
	c := *item
	if item.LastStatus != nil {
		c.LastStatus = models.StatusPtr(*item.LastStatus)
	}
	if item.LastLowStock != nil {
		c.LastLowStock = models.BoolPtr(*item.LastLowStock)
	}
	return &c
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}
