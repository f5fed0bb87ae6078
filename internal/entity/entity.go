// Package entity recognizes named entities in keyword text.
package entity

import (
	"context"
	"strings"

	"github.com/FranksOps/seedling/internal/keyword"
)

// Entity types produced by the built-in extractors.
const (
	TypeProduct  = "product"
	TypeAudience = "audience"
	TypePrice    = "price"
	TypeYear     = "year"
	TypeProblem  = "problem"
	TypeLocation = "location"
	TypeBrand    = "brand"
)

// Extractor returns the entities found in text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]keyword.Entity, error)
}

// Merge appends each entity not already present, comparing type and
// case-folded text. The result never contains duplicates.
func Merge(existing []keyword.Entity, more ...[]keyword.Entity) []keyword.Entity {
	seen := make(map[keyword.Entity]struct{}, len(existing))
	out := make([]keyword.Entity, 0, len(existing))
	add := func(e keyword.Entity) {
		e.Text = strings.Join(strings.Fields(strings.ToLower(e.Text)), " ")
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		if e.Text == "" {
			return
		}
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, e := range existing {
		add(e)
	}
	for _, list := range more {
		for _, e := range list {
			add(e)
		}
	}
	return out
}

// Chain runs extractors in order and merges their output. An extractor
// error stops the chain and returns what was merged so far.
type Chain []Extractor

func (c Chain) Extract(ctx context.Context, text string) ([]keyword.Entity, error) {
	var out []keyword.Entity
	for _, x := range c {
		found, err := x.Extract(ctx, text)
		if err != nil {
			return out, err
		}
		out = Merge(out, found)
	}
	return out, nil
}
