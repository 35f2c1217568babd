package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
)

// YAMLList is the document layout of a YAML destination list
type YAMLList struct {
	Sets []YAMLSet `yaml:"sets"`
}

// YAMLSet is one destination set of a YAMLList
type YAMLSet struct {
	ID           int               `yaml:"id"`
	Destinations []YAMLDestination `yaml:"destinations"`
}

// YAMLDestination is one destination of a YAMLSet. Attrs may be given as
// the classic attribute string or as a map.
type YAMLDestination struct {
	URI      string            `yaml:"uri"`
	Flags    uint32            `yaml:"flags"`
	Priority int               `yaml:"priority"`
	Attrs    string            `yaml:"attrs"`
	AttrsMap map[string]string `yaml:"attributes"`
}

// YAMLListSource reads a YAML destination list
type YAMLListSource struct {
	Path string
}

// NewYAMLListSource creates a source for the YAML list at path
func NewYAMLListSource(path string) *YAMLListSource {
	return &YAMLListSource{Path: path}
}

// LoadDestinations reads and parses the file
func (s *YAMLListSource) LoadDestinations(ctx context.Context) ([]domain.DestinationRow, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read list file %s: %w", s.Path, err)
	}
	rows, err := ParseYAMLList(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return rows, nil
}

// ParseYAMLList parses a YAML destination list document
func ParseYAMLList(data []byte) ([]domain.DestinationRow, error) {
	var doc YAMLList
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse destination list: %w", err)
	}

	var rows []domain.DestinationRow
	for _, set := range doc.Sets {
		for j, dest := range set.Destinations {
			if strings.TrimSpace(dest.URI) == "" {
				return nil, fmt.Errorf("set %d destination %d: missing uri", set.ID, j+1)
			}
			rows = append(rows, domain.DestinationRow{
				Group:    set.ID,
				URI:      dest.URI,
				Flags:    domain.DestinationFlags(dest.Flags),
				Priority: dest.Priority,
				Attrs:    joinAttrs(dest.Attrs, dest.AttrsMap),
				Line:     len(rows) + 1,
			})
		}
	}
	return rows, nil
}

// joinAttrs merges the attribute string with the attribute map, keys of the
// map in sorted order
func joinAttrs(body string, attrs map[string]string) string {
	if len(attrs) == 0 {
		return body
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	if body = strings.Trim(body, "; "); body != "" {
		parts = append(parts, body)
	}
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, ";")
}

// NewListSource returns the list source the configuration names
func NewListSource(cfg config.DispatcherConfig) (dispatcher.ListSource, error) {
	if cfg.ListFile == "" {
		return NewInMemoryDestinationRepository(), nil
	}
	switch cfg.ListFormat {
	case "", "text":
		return NewTextListSource(cfg.ListFile), nil
	case "yaml":
		return NewYAMLListSource(cfg.ListFile), nil
	default:
		return nil, fmt.Errorf("unknown list format %q", cfg.ListFormat)
	}
}
