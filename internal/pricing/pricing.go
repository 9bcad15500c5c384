// Package pricing holds the meetup catalog and the contribution formula.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meetup-bot/internal/models"
)

//go:embed catalog.yml
var defaultCatalog []byte

type CityPrice struct {
	EventDate     string `yaml:"event_date"`
	Base          int    `yaml:"base"`
	PerYear       int    `yaml:"per_year"`
	Cap           int    `yaml:"cap"`
	EarlyDiscount int    `yaml:"early_discount"`
	Free          bool   `yaml:"free"`
}

type Table struct {
	EventYear   int                       `yaml:"event_year"`
	CutoffRaw   string                    `yaml:"cutoff"`
	CutoffLabel string                    `yaml:"cutoff_label"`
	Cities      map[models.City]CityPrice `yaml:"cities"`
	Cutoff      time.Time                 `yaml:"-"`
}

// Amount is a contribution quote in rubles.
type Amount struct {
	Formula    int
	Regular    int
	Discounted int
	// Minimum is what the user has to pay at the quoted moment.
	Minimum     int
	Recommended int
	Early       bool
}

func (a Amount) Required() bool {
	return a.Regular > 0
}

// Default returns the catalog compiled into the binary.
func Default() (*Table, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from path, falling back to the embedded one when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("event catalog: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("event catalog: %w", err)
	}
	cutoff, err := time.Parse("2006-01-02", t.CutoffRaw)
	if err != nil {
		return nil, fmt.Errorf("event catalog cutoff: %w", err)
	}
	t.Cutoff = cutoff
	if t.EventYear == 0 {
		return nil, fmt.Errorf("event catalog: event_year is empty")
	}
	for _, c := range models.Cities {
		if _, ok := t.Cities[c]; !ok {
			return nil, fmt.Errorf("event catalog: city %s missing", c)
		}
	}
	return &t, nil
}

// Early reports whether at falls before the early payment cutoff.
func (t *Table) Early(at time.Time) bool {
	y, m, d := at.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return day.Before(t.Cutoff)
}

func (t *Table) EventDate(c models.City) string {
	return t.Cities[c].EventDate
}

// Quote computes the contribution for a registration at the given moment.
// It has no side effects.
func (t *Table) Quote(city models.City, gt models.GraduateType, graduationYear int, at time.Time) Amount {
	p, ok := t.Cities[city]
	if !ok || p.Free || gt == models.GraduateTypeTeacher {
		return Amount{}
	}

	var formula int
	if gt == models.GraduateTypeNonGraduate {
		formula = p.Cap
	} else {
		years := t.EventYear - graduationYear
		if years < 0 {
			years = 0
		}
		formula = p.Base + p.PerYear*years
	}

	regular := formula
	if p.Cap > 0 && regular > p.Cap {
		regular = p.Cap
	}
	discounted := regular - p.EarlyDiscount
	if discounted < 0 {
		discounted = 0
	}

	a := Amount{
		Formula:    formula,
		Regular:    regular,
		Discounted: discounted,
		Minimum:    regular,
		Early:      t.Early(at),
	}
	if a.Early {
		a.Minimum = discounted
	}
	a.Recommended = formula
	if a.Recommended < a.Minimum {
		a.Recommended = a.Minimum
	}
	return a
}

// FormulaText describes the city formula for the payment instructions.
func (t *Table) FormulaText(city models.City) string {
	p := t.Cities[city]
	if p.Free {
		return "за свой счет"
	}
	return fmt.Sprintf("%dр + %d * (%d - год выпуска)", p.Base, p.PerYear, t.EventYear)
}
