package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset — кнопка пополнения: фиксированная цена в звёздах и справочная цена в долларах.
type Preset struct {
	Credits int64 `yaml:"credits"`
	Stars   int64 `yaml:"stars"`
	USD     int64 `yaml:"usd"`
}

// DefaultPresets — варианты пополнения в меню бота.
func DefaultPresets() []Preset {
	return []Preset{
		{Credits: 150, Stars: 200, USD: 3},
		{Credits: 300, Stars: 400, USD: 6},
		{Credits: 500, Stars: 650, USD: 10},
		{Credits: 1000, Stars: 1300, USD: 20},
		{Credits: 2000, Stars: 2600, USD: 40},
		{Credits: 3000, Stars: 3850, USD: 60},
		{Credits: 4000, Stars: 5150, USD: 80},
	}
}

// Pricing объединяет конвертер и пресеты кнопок.
type Pricing struct {
	conv      *Converter
	presets   []Preset
	byCredits map[int64]Preset
}

// New собирает Pricing. Пресеты проверяются на уникальность и положительность.
func New(conv *Converter, presets []Preset) (*Pricing, error) {
	if conv == nil {
		return nil, fmt.Errorf("конвертер не задан")
	}
	p := &Pricing{
		conv:      conv,
		presets:   make([]Preset, 0, len(presets)),
		byCredits: make(map[int64]Preset, len(presets)),
	}
	for _, pr := range presets {
		if pr.Credits <= 0 || pr.Stars <= 0 {
			return nil, fmt.Errorf("пресет %d кредитов: значения должны быть > 0", pr.Credits)
		}
		if _, dup := p.byCredits[pr.Credits]; dup {
			return nil, fmt.Errorf("дубликат пресета для %d кредитов", pr.Credits)
		}
		p.byCredits[pr.Credits] = pr
		p.presets = append(p.presets, pr)
	}
	return p, nil
}

// Default — встроенные якоря и пресеты.
func Default() *Pricing {
	p, err := New(MustConverter(DefaultAnchors()), DefaultPresets())
	if err != nil {
		panic(err)
	}
	return p
}

// Quote — сколько звёзд выставить в счёте за credits кредитов.
// Цена пресета важнее интерполяции: кнопка показывает именно её.
func (p *Pricing) Quote(credits int64) int64 {
	if pr, ok := p.byCredits[credits]; ok {
		return pr.Stars
	}
	return p.conv.ToExternalUnits(credits)
}

// Presets возвращает пресеты в порядке отображения.
func (p *Pricing) Presets() []Preset {
	out := make([]Preset, len(p.presets))
	copy(out, p.presets)
	return out
}

// Converter возвращает конвертер по якорям.
func (p *Pricing) Converter() *Converter {
	return p.conv
}

// File — формат YAML-файла с ценами.
//
//	anchors:
//	  - {credits: 150, units: 400}
//	presets:
//	  - {credits: 150, stars: 200, usd: 3}
type File struct {
	Anchors []Anchor `yaml:"anchors"`
	Presets []Preset `yaml:"presets"`
}

// LoadFile читает цены из YAML. Пустой путь: встроенные значения.
// Отсутствующий раздел файла тоже заменяется встроенным.
func LoadFile(path string) (*Pricing, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse разбирает YAML с ценами.
func Parse(raw []byte) (*Pricing, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("разбор YAML цен: %w", err)
	}

	anchors := f.Anchors
	if len(anchors) == 0 {
		anchors = DefaultAnchors()
	}
	presets := f.Presets
	if len(presets) == 0 {
		presets = DefaultPresets()
	}

	conv, err := NewConverter(anchors)
	if err != nil {
		return nil, err
	}
	return New(conv, presets)
}
