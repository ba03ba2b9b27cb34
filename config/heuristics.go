package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Heuristics holds the market-specific phrase lists used by the extractor
// to classify a listing as sold by a private person rather than an agency.
// The lists are tuned to one language/market and are deliberately kept as
// replaceable configuration rather than code.
type Heuristics struct {
	// DescriptionPhrases flag a private seller when found (lowercased)
	// anywhere in the listing description.
	DescriptionPhrases []string `yaml:"description_phrases"`
	// FeatureTokens flag a private seller when found in a feature entry
	// or in the broker name field.
	FeatureTokens []string `yaml:"feature_tokens"`
	// PrivateSellerFeature is the synthetic feature appended once when
	// any signal fires.
	PrivateSellerFeature string `yaml:"private_seller_feature"`
}

// DefaultHeuristics returns the compiled-in phrase set matching the
// source market (Sofia, imot.bg).
func DefaultHeuristics() *Heuristics {
	return &Heuristics{
		DescriptionPhrases: []string{
			"частно лице",
			"продава се от физическо лице",
			"собственик продава",
			"директно от собственик",
		},
		FeatureTokens: []string{
			"частно лице",
			"собственик",
		},
		PrivateSellerFeature: "Частно лице",
	}
}

// LoadHeuristics reads a YAML phrase file, falling back to the defaults
// when path is empty. Missing fields inherit the defaults.
func LoadHeuristics(path string) (*Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("heuristics: read %q: %w", path, err)
	}

	var loaded Heuristics
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("heuristics: parse %q: %w", path, err)
	}

	if len(loaded.DescriptionPhrases) > 0 {
		h.DescriptionPhrases = loaded.DescriptionPhrases
	}
	if len(loaded.FeatureTokens) > 0 {
		h.FeatureTokens = loaded.FeatureTokens
	}
	if loaded.PrivateSellerFeature != "" {
		h.PrivateSellerFeature = loaded.PrivateSellerFeature
	}
	return h, nil
}
