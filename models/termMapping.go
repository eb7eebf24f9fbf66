package models

import "time"

// TermMapping maps a raw source-system term (an account head, a category
// label) to the canonical type/subtype used on breakdown lines. Created on
// first sight of a new term; subsequent builds reuse the stored mapping.
//
// Unique constraint: (source_system, raw_term).
type TermMapping struct {
	ID           int    `gorm:"primaryKey" json:"id"`
	SourceSystem string `gorm:"size:50;not null;index:uniq_term,unique,priority:1" json:"source_system"`
	RawTerm      string `gorm:"size:255;not null;index:uniq_term,unique,priority:2" json:"raw_term"`

	CanonicalType    string `gorm:"size:100;not null" json:"canonical_type"`
	CanonicalSubtype string `gorm:"size:100;not null;default:''" json:"canonical_subtype"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
