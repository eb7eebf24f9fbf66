package workflow

import (
	"fmt"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/cfo_backend/config"
	"bitbucket.org/mmdatafocus/cfo_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TermMappingCache resolves raw source-system terms to canonical
// type/subtype pairs, creating the mapping row on first sight of a new term.
//
// The cache is an explicit, injectable object: one instance lives for the
// process and tests construct (and Reset) their own, so the
// "already logged this unmapped term" memory never leaks between tests.
type TermMappingCache struct {
	mu       sync.Mutex
	mappings map[string]models.TermMapping
	// firstSight suppresses repeat "new term" logs for the cache lifetime.
	firstSight map[string]bool
}

func NewTermMappingCache() *TermMappingCache {
	return &TermMappingCache{
		mappings:   make(map[string]models.TermMapping),
		firstSight: make(map[string]bool),
	}
}

// Reset clears all cached mappings and first-sight memory.
func (c *TermMappingCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mappings = make(map[string]models.TermMapping)
	c.firstSight = make(map[string]bool)
}

// Resolve returns the canonical mapping for (sourceSystem, rawTerm), looking
// at the cache, then the store, then creating a new mapping with the given
// fallback type.
func (c *TermMappingCache) Resolve(tx *gorm.DB, logger *logrus.Logger, sourceSystem, rawTerm, fallbackType string) (models.TermMapping, error) {
	key := fmt.Sprintf("%s|%s", sourceSystem, strings.ToLower(strings.TrimSpace(rawTerm)))

	c.mu.Lock()
	if m, ok := c.mappings[key]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	var mapping models.TermMapping
	err := tx.Where("source_system = ? AND raw_term = ?", sourceSystem, rawTerm).
		First(&mapping).Error
	if err == nil {
		c.remember(key, mapping)
		return mapping, nil
	}
	if err != gorm.ErrRecordNotFound {
		config.LogError(logger, "termMappingCache.go", "Resolve", "Lookup", key, err)
		return models.TermMapping{}, err
	}

	mapping = models.TermMapping{
		SourceSystem:     sourceSystem,
		RawTerm:          rawTerm,
		CanonicalType:    fallbackType,
		CanonicalSubtype: canonicalSubtype(rawTerm),
	}
	if err := tx.Create(&mapping).Error; err != nil {
		config.LogError(logger, "termMappingCache.go", "Resolve", "Create", key, err)
		return models.TermMapping{}, err
	}

	c.mu.Lock()
	if !c.firstSight[key] {
		c.firstSight[key] = true
		c.mu.Unlock()
		logger.WithFields(logrus.Fields{
			"source_system":  sourceSystem,
			"raw_term":       rawTerm,
			"canonical_type": fallbackType,
		}).Info("recompute.term_mapping.created")
	} else {
		c.mu.Unlock()
	}
	c.remember(key, mapping)
	return mapping, nil
}

func (c *TermMappingCache) remember(key string, mapping models.TermMapping) {
	c.mu.Lock()
	c.mappings[key] = mapping
	c.mu.Unlock()
}

func canonicalSubtype(rawTerm string) string {
	s := strings.ToUpper(strings.TrimSpace(rawTerm))
	s = strings.Join(strings.Fields(s), "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
