// Package sorting maps classifier labels onto the bins of the sorting game.
package sorting

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// Built-in category names.
const (
	Recycling = "recycling"
	Compost   = "compost"
	Trash     = "trash"
)

// Category is a bin the player can sort an item into.
type Category struct {
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Image  string   `json:"image"`
	Sounds []string `json:"sounds"`
}

// DefaultCategories returns the recycling, compost and trash bins.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:   Recycling,
			Title:  "Recycling",
			Image:  "Recycling-Image.png",
			Sounds: []string{"recycling1.mp3", "recycling2.mp3"},
		},
		{
			Name:   Compost,
			Title:  "Compost",
			Image:  "Compost-Image.png",
			Sounds: []string{"compost1.mp3", "compost2.mp3"},
		},
		{
			Name:   Trash,
			Title:  "Trash",
			Image:  "Trash-Image.png",
			Sounds: []string{"trash1.mp3"},
		},
	}
}

// DefaultMappings is the adapter for the stand-in test model, whose classes
// are not bins yet.
func DefaultMappings() map[string]string {
	return map[string]string{
		"face":  Recycling,
		"glass": Compost,
		"hand":  Trash,
	}
}

// Presentation is what the player sees and hears when a label is entered.
type Presentation struct {
	Label    string `json:"label"`
	Category string `json:"category"`
	Title    string `json:"title"`
	Image    string `json:"image"`
	Sound    string `json:"sound,omitempty"`
}

// Options configures a Catalog.
type Options struct {
	// IgnoreUnknown drops labels with no mapping. When false they are shown
	// as the Fallback category.
	IgnoreUnknown bool
	// Fallback is the category for unmapped labels. Defaults to Trash.
	Fallback string
}

// Catalog resolves labels to presentations. It is safe for concurrent use.
type Catalog struct {
	categories map[string]Category
	mappings   map[string]string
	opts       Options
	pick       func(n int) int
	mu         sync.RWMutex
}

// NewCatalog creates a Catalog over categories.
func NewCatalog(categories []Category, opts Options) *Catalog {
	if opts.Fallback == "" {
		opts.Fallback = Trash
	}
	c := &Catalog{
		categories: make(map[string]Category, len(categories)),
		mappings:   make(map[string]string),
		opts:       opts,
		pick:       rand.IntN,
	}
	for _, cat := range categories {
		c.categories[cat.Name] = cat
	}
	return c
}

// Map binds a classifier label to a category. Labels are matched
// case-insensitively.
func (c *Catalog) Map(label, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings[NormalizeLabel(label)] = category
}

// Unmap removes a label binding.
func (c *Catalog) Unmap(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mappings, NormalizeLabel(label))
}

// Mapped returns the explicit binding for label, ignoring category names
// and the fallback.
func (c *Catalog) Mapped(label string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	category, ok := c.mappings[NormalizeLabel(label)]
	return category, ok
}

// SetMappings replaces all label bindings.
func (c *Catalog) SetMappings(m map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings = make(map[string]string, len(m))
	for label, category := range m {
		c.mappings[NormalizeLabel(label)] = category
	}
}

// SetIgnoreUnknown changes how unmapped labels are handled.
func (c *Catalog) SetIgnoreUnknown(ignore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.IgnoreUnknown = ignore
}

// IgnoreUnknown reports whether unmapped labels are dropped.
func (c *Catalog) IgnoreUnknown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.IgnoreUnknown
}

// Category looks up a category by name.
func (c *Catalog) Category(name string) (Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[name]
	return cat, ok
}

// Categories returns all categories sorted by name.
func (c *Catalog) Categories() []Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Category, 0, len(c.categories))
	for _, cat := range c.categories {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CategoryFor returns the category name a label resolves to.
// A label that names a category resolves to it directly.
func (c *Catalog) CategoryFor(label string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.categoryFor(label)
}

func (c *Catalog) categoryFor(label string) (string, bool) {
	key := NormalizeLabel(label)
	if name, ok := c.mappings[key]; ok {
		if _, known := c.categories[name]; known {
			return name, true
		}
	}
	if _, ok := c.categories[key]; ok {
		return key, true
	}
	if c.opts.IgnoreUnknown {
		return "", false
	}
	if _, ok := c.categories[c.opts.Fallback]; ok {
		return c.opts.Fallback, true
	}
	return "", false
}

// Resolve builds the presentation for an entered label, picking one of
// the category's sounds at random. ok is false when the label is ignored.
func (c *Catalog) Resolve(label string) (Presentation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name, ok := c.categoryFor(label)
	if !ok {
		return Presentation{}, false
	}
	cat := c.categories[name]

	p := Presentation{
		Label:    label,
		Category: cat.Name,
		Title:    cat.Title,
		Image:    cat.Image,
	}
	if len(cat.Sounds) > 0 {
		p.Sound = cat.Sounds[c.pick(len(cat.Sounds))]
	}
	return p, true
}

// NormalizeLabel returns the form labels are matched and stored under.
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
