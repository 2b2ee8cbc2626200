package tiered

import (
	"maps"
	"sync/atomic"
)

// DefaultClass is the class of models absent from the table when no default
// is configured.
const DefaultClass = "standard"

type classTable struct {
	classes  map[string]string
	fallback string
}

// Classifier maps models to classes. Lookups are lock free; Update swaps the
// whole table at once so readers never see a partial table.
type Classifier struct {
	table atomic.Pointer[classTable]
}

// NewClassifier creates a classifier. An empty defaultClass selects
// DefaultClass.
func NewClassifier(classes map[string]string, defaultClass string) *Classifier {
	c := &Classifier{}
	c.Update(classes, defaultClass)
	return c
}

// Classify returns the class of model.
func (c *Classifier) Classify(model string) string {
	t := c.table.Load()
	if class, ok := t.classes[model]; ok {
		return class
	}
	return t.fallback
}

// Update replaces the table and default class.
func (c *Classifier) Update(classes map[string]string, defaultClass string) {
	if defaultClass == "" {
		defaultClass = DefaultClass
	}
	c.table.Store(&classTable{
		classes:  maps.Clone(classes),
		fallback: defaultClass,
	})
}

// Table returns a copy of the current table and its default class.
func (c *Classifier) Table() (map[string]string, string) {
	t := c.table.Load()
	return maps.Clone(t.classes), t.fallback
}
