package features

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Vocabulary is the versioned pattern data behind the heuristic signals.
type Vocabulary struct {
	Version        string   `yaml:"version"`
	Interrogatives []string `yaml:"interrogatives"`
	Date           []string `yaml:"date"`
	Place          []string `yaml:"place"`
	Money          []string `yaml:"money"`
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() (*Vocabulary, error) {
	return ParseVocabulary(defaultVocabulary)
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if v.Version == "" {
		return nil, errors.New("vocabulary: version is required")
	}
	return &v, nil
}
