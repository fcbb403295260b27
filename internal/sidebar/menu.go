// Package sidebar implements the role-gated navigation sidebar: role
// detection, menu visibility, persisted order/pin/lock state, keyboard focus
// and guarded action buttons.
package sidebar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/talonops/talon/model"
)

// Item is one entry of the sidebar menu tree.
type Item struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
	Route string `yaml:"route,omitempty" json:"route,omitempty"`
	Order int    `yaml:"order" json:"-"`

	// MinRole is the lowest role allowed to see the item. AdminOnly is a
	// shorthand for MinRole ADMIN and wins when both are set.
	MinRole   model.Role `yaml:"min_role,omitempty" json:"min_role,omitempty"`
	AdminOnly bool       `yaml:"admin_only,omitempty" json:"admin_only,omitempty"`

	Children []Item `yaml:"children,omitempty" json:"children,omitempty"`
}

// Menu is the full, ungated menu tree.
type Menu struct {
	Items []Item `yaml:"items"`
	// Checksum is the SHA-256 of the source document.
	Checksum string `yaml:"-"`
}

// LoadMenu reads a menu tree from a YAML file.
func LoadMenu(path string) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sidebar: reading menu %s: %w", path, err)
	}
	m, err := ParseMenu(data)
	if err != nil {
		return nil, fmt.Errorf("sidebar: %s: %w", path, err)
	}
	return m, nil
}

// ParseMenu decodes and validates a YAML menu tree. Items are sorted by
// Order at every level.
func ParseMenu(data []byte) (*Menu, error) {
	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing menu: %w", err)
	}
	if err := validate(m.Items, make(map[string]bool)); err != nil {
		return nil, err
	}
	sortItems(m.Items)
	sum := sha256.Sum256(data)
	m.Checksum = hex.EncodeToString(sum[:])
	return &m, nil
}

func validate(items []Item, seen map[string]bool) error {
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("menu item %q has no id", it.Label)
		}
		if seen[it.ID] {
			return fmt.Errorf("duplicate menu item id %q", it.ID)
		}
		seen[it.ID] = true
		if it.MinRole != "" {
			if _, ok := model.ParseRole(string(it.MinRole)); !ok {
				return fmt.Errorf("menu item %q: unknown min_role %q", it.ID, it.MinRole)
			}
		}
		if it.Route == "" && len(it.Children) == 0 {
			return fmt.Errorf("menu item %q needs a route or children", it.ID)
		}
		if err := validate(it.Children, seen); err != nil {
			return err
		}
	}
	return nil
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	for i := range items {
		sortItems(items[i].Children)
	}
}

// Find returns the item with the given id anywhere in the tree.
func (m *Menu) Find(id string) (Item, bool) {
	return find(m.Items, id)
}

func find(items []Item, id string) (Item, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
		if c, ok := find(it.Children, id); ok {
			return c, true
		}
	}
	return Item{}, false
}

// Routes returns the route of every item in the tree, depth first.
func Routes(items []Item) []string {
	var out []string
	for _, it := range items {
		if it.Route != "" {
			out = append(out, it.Route)
		}
		out = append(out, Routes(it.Children)...)
	}
	return out
}
