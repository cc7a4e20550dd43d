// Package pricing переводит кредиты во внешние единицы (звёзды).
// Цены задаются опорными точками (якорями); между ними линейная интерполяция.
package pricing

import (
	"fmt"
	"sort"
)

// Anchor — опубликованная цена: столько-то кредитов стоит столько-то звёзд.
type Anchor struct {
	Credits int64 `yaml:"credits"`
	Units   int64 `yaml:"units"`
}

// DefaultAnchors — ценовые уровни по умолчанию.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{Credits: 150, Units: 400},
		{Credits: 250, Units: 650},
		{Credits: 500, Units: 1300},
		{Credits: 1000, Units: 2600},
		{Credits: 1500, Units: 3850},
		{Credits: 2000, Units: 5150},
	}
}

// Converter — чистая функция кредиты → звёзды. Безопасен для конкурентного использования.
type Converter struct {
	anchors []Anchor // отсортированы по Credits
}

// NewConverter проверяет и сортирует якоря.
// Требования: хотя бы один якорь, все значения > 0, кредиты уникальны,
// цена не убывает с ростом кредитов.
func NewConverter(anchors []Anchor) (*Converter, error) {
	if len(anchors) == 0 {
		return nil, fmt.Errorf("нужен хотя бы один якорь")
	}

	sorted := make([]Anchor, len(anchors))
	copy(sorted, anchors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Credits < sorted[j].Credits })

	for i, a := range sorted {
		if a.Credits <= 0 || a.Units <= 0 {
			return nil, fmt.Errorf("якорь %d→%d: значения должны быть > 0", a.Credits, a.Units)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Credits == a.Credits {
			return nil, fmt.Errorf("дубликат якоря для %d кредитов", a.Credits)
		}
		if a.Units < prev.Units {
			return nil, fmt.Errorf("цена убывает: %d→%d после %d→%d", a.Credits, a.Units, prev.Credits, prev.Units)
		}
	}

	return &Converter{anchors: sorted}, nil
}

// MustConverter — как NewConverter, но паникует. Только для встроенных значений.
func MustConverter(anchors []Anchor) *Converter {
	c, err := NewConverter(anchors)
	if err != nil {
		panic(err)
	}
	return c
}

// Anchors возвращает копию якорей.
func (c *Converter) Anchors() []Anchor {
	out := make([]Anchor, len(c.anchors))
	copy(out, c.anchors)
	return out
}

// ToExternalUnits считает цену в звёздах для credits кредитов.
//
//   - точное попадание в якорь → его цена;
//   - ниже первого / выше последнего якоря → пропорция крайнего якоря, дробная часть отбрасывается;
//   - между якорями → линейная интерполяция с округлением вверх.
func (c *Converter) ToExternalUnits(credits int64) int64 {
	first := c.anchors[0]
	last := c.anchors[len(c.anchors)-1]

	if credits < first.Credits {
		return first.Units * credits / first.Credits
	}
	if credits > last.Credits {
		return last.Units * credits / last.Credits
	}

	// Первый якорь с Credits >= credits
	i := sort.Search(len(c.anchors), func(i int) bool { return c.anchors[i].Credits >= credits })
	hi := c.anchors[i]
	if hi.Credits == credits {
		return hi.Units
	}
	lo := c.anchors[i-1]

	num := (hi.Units - lo.Units) * (credits - lo.Credits)
	den := hi.Credits - lo.Credits
	return lo.Units + ceilDiv(num, den)
}

// ceilDiv — деление с округлением вверх для num >= 0, den > 0.
func ceilDiv(num, den int64) int64 {
	return (num + den - 1) / den
}
