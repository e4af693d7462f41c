package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/servicedesk_bot/backend/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the read-mostly reference data shared by all chats.
type Catalog struct {
	SupportPhone string          `yaml:"support_phone"`
	Directions   []string        `yaml:"directions"`
	Branches     []models.Branch `yaml:"branches"`
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(c.Directions) == 0 {
		return Catalog{}, errors.New("catalog has no directions")
	}
	if len(c.Branches) == 0 {
		return Catalog{}, errors.New("catalog has no branches")
	}
	for _, b := range c.Branches {
		if len(b.Boundary) == 0 {
			return Catalog{}, fmt.Errorf("branch %q has no boundary points", b.Name)
		}
		if b.InZoneKm <= 0 || b.FreeDispatchKm < b.InZoneKm {
			return Catalog{}, fmt.Errorf("branch %q has inconsistent thresholds", b.Name)
		}
	}
	return c, nil
}

// LoadCatalog reads path, or the embedded default when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return ParseCatalog(defaultCatalog)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(raw)
}

func DefaultCatalog() Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) HasDirection(value string) bool {
	v := strings.TrimSpace(value)
	for _, d := range c.Directions {
		if strings.EqualFold(d, v) {
			return true
		}
	}
	return false
}

// CanonicalDirection returns the catalog spelling of value.
func (c Catalog) CanonicalDirection(value string) (string, bool) {
	v := strings.TrimSpace(value)
	for _, d := range c.Directions {
		if strings.EqualFold(d, v) {
			return d, true
		}
	}
	return "", false
}

func (c Catalog) Branch(name string) (models.Branch, bool) {
	for _, b := range c.Branches {
		if b.Name == name {
			return b, true
		}
	}
	return models.Branch{}, false
}

// CatalogHolder hands out the current catalog and swaps it on Reload.
type CatalogHolder struct {
	path string

	mu      sync.RWMutex
	current Catalog
}

func NewCatalogHolder(path string) (*CatalogHolder, error) {
	c, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return &CatalogHolder{path: path, current: c}, nil
}

func StaticCatalog(c Catalog) *CatalogHolder {
	return &CatalogHolder{current: c}
}

func (h *CatalogHolder) Get() Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *CatalogHolder) Reload() error {
	c, err := LoadCatalog(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.current = c
	h.mu.Unlock()
	return nil
}
