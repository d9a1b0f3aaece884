package chatstream

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config/models.yaml
var modelsYAML []byte

// Model Catalog Philosophy:
//
// The catalog provides MODEL METADATA for suggestions and informational
// purposes. It does NOT enforce validation - the upstream API is the source
// of truth, and entries may lag behind newly released models.
//
// Use cases:
//  - Alternative-model suggestions when a model keeps returning empty output
//  - Reasoning / web-search capability hints for UI
//
// Callers can override the embedded catalog by calling
// LoadModelCatalogFromFile() with custom YAML.

// ModelCatalog holds metadata for the models the chat layer exposes.
type ModelCatalog struct {
	Version     string               `yaml:"version"`
	LastUpdated string               `yaml:"last_updated"`
	Models      map[string]ModelInfo `yaml:"models"`

	// Fallbacks is the ordered allow-list used for alternative-model
	// suggestions.
	Fallbacks []string `yaml:"fallbacks"`
}

// ModelInfo describes one model's limits and capabilities.
type ModelInfo struct {
	ContextWindow   int    `yaml:"context_window"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	Reasoning       bool   `yaml:"reasoning"`
	WebSearch       bool   `yaml:"web_search"`
	Description     string `yaml:"description"`
}

var (
	catalog     *ModelCatalog
	catalogOnce sync.Once
	catalogMu   sync.RWMutex
)

// GetModelCatalog returns the global model catalog, loading the embedded
// YAML on first use.
func GetModelCatalog() *ModelCatalog {
	catalogOnce.Do(func() {
		c := &ModelCatalog{}
		if err := yaml.Unmarshal(modelsYAML, c); err != nil {
			// Degrade to an empty catalog - suggestions just come back empty.
			fmt.Fprintf(os.Stderr, "chatstream: failed to load embedded model catalog: %v\n", err)
			c = &ModelCatalog{Models: map[string]ModelInfo{}}
		}
		catalogMu.Lock()
		catalog = c
		catalogMu.Unlock()
	})
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return catalog
}

// LoadModelCatalogFromFile replaces the global catalog with one parsed from
// a YAML file on disk.
func LoadModelCatalogFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model catalog: %w", err)
	}
	c := &ModelCatalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse model catalog: %w", err)
	}
	GetModelCatalog() // make sure the once has fired before swapping
	catalogMu.Lock()
	catalog = c
	catalogMu.Unlock()
	return nil
}

// Lookup returns metadata for a model. Variant suffixes (":online",
// ":free") are ignored when the exact id is not present.
func (c *ModelCatalog) Lookup(model string) (ModelInfo, bool) {
	if info, ok := c.Models[model]; ok {
		return info, true
	}
	if i := strings.IndexByte(model, ':'); i > 0 {
		info, ok := c.Models[model[:i]]
		return info, ok
	}
	return ModelInfo{}, false
}

// SuggestAlternatives returns up to limit fallback models, excluding the
// model just tried (compared without variant suffix).
func (c *ModelCatalog) SuggestAlternatives(exclude string, limit int) []string {
	base := exclude
	if i := strings.IndexByte(base, ':'); i > 0 {
		base = base[:i]
	}
	var out []string
	for _, m := range c.Fallbacks {
		if m == exclude || m == base {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
