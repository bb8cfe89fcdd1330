// ABOUTME: Panel layout templates: named rectangle arrangements on a unit page.
// ABOUTME: Built-in library plus YAML loading for custom template sets.
package layout

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rect is one panel's geometry as fractions of the page. X grows rightward,
// Y grows downward (reading order).
type Rect struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// Area returns the rect's fractional area.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Template is a named arrangement of panel rectangles in reading order.
type Template struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Rects []Rect `yaml:"rects" json:"rects"`
}

// PanelCount returns the number of panels this template lays out.
func (t Template) PanelCount() int {
	return len(t.Rects)
}

// Library is a set of templates, typically spanning several panel counts.
type Library struct {
	Templates []Template `yaml:"templates"`
}

// ByPanelCount returns the templates matching the given panel count.
func (l Library) ByPanelCount(n int) []Template {
	var out []Template
	for _, t := range l.Templates {
		if t.PanelCount() == n {
			out = append(out, t)
		}
	}
	return out
}

// LoadLibrary parses a YAML template library.
func LoadLibrary(data []byte) (Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return Library{}, fmt.Errorf("parse template library: %w", err)
	}
	for _, t := range lib.Templates {
		if t.ID == "" {
			return Library{}, fmt.Errorf("template with empty id")
		}
		if len(t.Rects) == 0 {
			return Library{}, fmt.Errorf("template %q has no rects", t.ID)
		}
	}
	return lib, nil
}

// LoadLibraryFile loads a YAML template library from disk.
func LoadLibraryFile(path string) (Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Library{}, fmt.Errorf("read template library: %w", err)
	}
	return LoadLibrary(data)
}

// DefaultLibrary returns the built-in template set covering 1-4 panels.
func DefaultLibrary() Library {
	return Library{Templates: []Template{
		{
			ID:    "single",
			Name:  "Full page",
			Rects: []Rect{{0, 0, 1, 1}},
		},
		{
			ID:   "stack-2",
			Name: "Two equal rows",
			Rects: []Rect{
				{0, 0, 1, 0.5},
				{0, 0.5, 1, 0.5},
			},
		},
		{
			ID:   "dominant-top-2",
			Name: "Large top, small bottom",
			Rects: []Rect{
				{0, 0, 1, 0.65},
				{0, 0.65, 1, 0.35},
			},
		},
		{
			ID:   "stack-3",
			Name: "Three equal rows",
			Rects: []Rect{
				{0, 0, 1, 1.0 / 3},
				{0, 1.0 / 3, 1, 1.0 / 3},
				{0, 2.0 / 3, 1, 1.0 / 3},
			},
		},
		{
			ID:   "hero-bottom-3",
			Name: "Two small rows over a hero panel",
			Rects: []Rect{
				{0, 0, 0.5, 0.35},
				{0.5, 0, 0.5, 0.35},
				{0, 0.35, 1, 0.65},
			},
		},
		{
			ID:   "grid-4",
			Name: "Two-by-two grid",
			Rects: []Rect{
				{0, 0, 0.5, 0.5},
				{0.5, 0, 0.5, 0.5},
				{0, 0.5, 0.5, 0.5},
				{0.5, 0.5, 0.5, 0.5},
			},
		},
		{
			ID:   "hero-left-4",
			Name: "Hero column with three stacked panels",
			Rects: []Rect{
				{0, 0, 0.6, 1},
				{0.6, 0, 0.4, 1.0 / 3},
				{0.6, 1.0 / 3, 0.4, 1.0 / 3},
				{0.6, 2.0 / 3, 0.4, 1.0 / 3},
			},
		},
	}}
}
