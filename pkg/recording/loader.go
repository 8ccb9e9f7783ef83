package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/httpmockd/httpmockd/pkg/mock"
)

// LoadDirectory reads every *.yaml/*.yml file under dir in lexicographic
// filename order and returns the MockSpecs they describe, in the combined
// order spec.md §6 requires for persisted state loaded at startup.
func LoadDirectory(dir string) ([]mock.MockSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mock files dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var specs []mock.MockSpec
	for _, name := range names {
		recEntries, err := Load(filepath.Join(dir, name))
		if err != nil {
			return specs, fmt.Errorf("load %s: %w", name, err)
		}
		for _, e := range recEntries {
			specs = append(specs, EntryToMockSpec(e))
		}
	}
	return specs, nil
}
