package faultcode

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hearthlabs/boilerd/internal/manufacturer"
)

//go:embed datasets/*.json
var datasetFS embed.FS

// datasetSources maps each canonical manufacturer to its dataset files, in
// source order. A manufacturer may have several sources (current range plus
// legacy appliances); when two sources define the same exact code the first
// source wins, so the current range takes precedence over legacy data.
var datasetSources = map[string][]string{
	manufacturer.Ideal:     {"datasets/ideal.json", "datasets/ideal_legacy.json"},
	manufacturer.Worcester: {"datasets/worcester.json"},
	manufacturer.Vaillant:  {"datasets/vaillant.json"},
	manufacturer.Baxi:      {"datasets/baxi.json"},
	manufacturer.GlowWorm:  {"datasets/glowworm.json"},
}

// loadEmbedded parses and merges all embedded dataset files into
// per-manufacturer record lists.
func loadEmbedded() (map[string][]Record, error) {
	datasets := make(map[string][]Record, len(datasetSources))
	for man, files := range datasetSources {
		merged, err := mergeSources(man, files)
		if err != nil {
			return nil, err
		}
		datasets[man] = merged
	}
	return datasets, nil
}

// mergeSources concatenates the records of each file in order, dropping
// exact codes already defined by an earlier source for the same
// manufacturer. Range entries are never deduplicated against exact codes.
func mergeSources(man string, files []string) ([]Record, error) {
	var merged []Record
	seen := make(map[string]struct{})

	for _, file := range files {
		raw, err := datasetFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read dataset %s: %w", file, err)
		}

		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("parse dataset %s: %w", file, err)
		}

		for _, r := range records {
			r.Code = strings.ToUpper(strings.TrimSpace(r.Code))
			if r.Code == "" {
				return nil, fmt.Errorf("dataset %s: record with empty code", file)
			}
			r.Manufacturer = man

			if !isRangeCode(r.Code) {
				if _, dup := seen[r.Code]; dup {
					continue
				}
				seen[r.Code] = struct{}{}
			}
			merged = append(merged, r)
		}
	}
	return merged, nil
}
