package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/focus-quest/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION RULES FILE
// ══════════════════════════════════════════════════════════════════════════════

// ProgressionFile is the YAML layout of the rules file. Every section is
// optional; a missing section or curve coefficient keeps the built-in default.
//
//	curve:
//	  base: 100
//	  exponent: 1.5
//	  scale: 50
//	tiers:
//	  - {min_level: 1, band: bronze, sub_rank: I}
//	companions:
//	  - {id: mochi, name: Mochi, skill: cosmetic, unlock_level: 1}
type ProgressionFile struct {
	Curve      *CurveSpec      `yaml:"curve"`
	Tiers      []TierSpec      `yaml:"tiers"`
	Companions []CompanionSpec `yaml:"companions"`
}

// CurveSpec overrides individual progression.Curve coefficients.
type CurveSpec struct {
	Base     *float64 `yaml:"base"`
	Exponent *float64 `yaml:"exponent"`
	Scale    *float64 `yaml:"scale"`
}

// apply overwrites only the coefficients present in the file.
func (s *CurveSpec) apply(curve progression.Curve) progression.Curve {
	if s == nil {
		return curve
	}
	if s.Base != nil {
		curve.Base = *s.Base
	}
	if s.Exponent != nil {
		curve.Exponent = *s.Exponent
	}
	if s.Scale != nil {
		curve.Scale = *s.Scale
	}
	return curve
}

// TierSpec is one tier boundary.
type TierSpec struct {
	MinLevel int    `yaml:"min_level"`
	Band     string `yaml:"band"`
	SubRank  string `yaml:"sub_rank"`
}

// CompanionSpec is one catalog entry.
type CompanionSpec struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Skill       string  `yaml:"skill"`
	Multiplier  float64 `yaml:"multiplier"`
	UnlockLevel int     `yaml:"unlock_level"`
}

// LoadProgression builds the progression engine from a rules file.
// An empty path yields the built-in rules.
func LoadProgression(path string) (*progression.Engine, error) {
	if path == "" {
		return progression.NewEngine(progression.DefaultCurve(), nil, nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read progression file: %w", err)
	}

	engine, err := ParseProgression(data)
	if err != nil {
		return nil, fmt.Errorf("progression file %s: %w", path, err)
	}
	return engine, nil
}

// ParseProgression decodes rules YAML. Unknown keys are rejected.
func ParseProgression(data []byte) (*progression.Engine, error) {
	var file ProgressionFile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	curve := file.Curve.apply(progression.DefaultCurve())

	var tiers *progression.TierTable
	if len(file.Tiers) > 0 {
		boundaries := make([]progression.TierBoundary, 0, len(file.Tiers))
		for i, spec := range file.Tiers {
			band, err := progression.ParseBand(spec.Band)
			if err != nil {
				return nil, fmt.Errorf("tiers[%d]: %w", i, err)
			}
			sub, err := progression.ParseSubRank(spec.SubRank)
			if err != nil {
				return nil, fmt.Errorf("tiers[%d]: %w", i, err)
			}
			boundaries = append(boundaries, progression.TierBoundary{
				MinLevel: spec.MinLevel,
				Tier:     progression.Tier{Band: band, SubRank: sub},
			})
		}

		table, err := progression.NewTierTable(boundaries)
		if err != nil {
			return nil, err
		}
		tiers = table
	}

	var catalog *progression.Catalog
	if len(file.Companions) > 0 {
		companions := make([]progression.Companion, 0, len(file.Companions))
		for _, spec := range file.Companions {
			companions = append(companions, progression.Companion{
				ID:          spec.ID,
				Name:        spec.Name,
				Skill:       progression.Skill{Kind: progression.SkillKind(spec.Skill), Multiplier: spec.Multiplier},
				UnlockLevel: spec.UnlockLevel,
			})
		}

		c, err := progression.NewCatalog(companions)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	return progression.NewEngine(curve, catalog, tiers)
}
