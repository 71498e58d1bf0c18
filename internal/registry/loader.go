package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fhirstore/fhirstore/internal/fhir"
)

// LoadDirectory reads every .json file in dir as a conformance bundle or a
// single conformance resource and registers its contents. Files load in
// lexical order so repeated runs see identical registration order.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read conformance dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := r.LoadBytes(data); err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		r.log.Debug().Str("file", name).Msg("conformance file loaded")
	}
	return nil
}

// LoadBytes registers the conformance resources in a JSON document: a
// Bundle of them or a single one.
func (r *Registry) LoadBytes(data []byte) error {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fhir.InvalidSpec("conformance document is not JSON: %v", err)
	}

	switch head.ResourceType {
	case "Bundle":
		var bundle struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		}
		if err := json.Unmarshal(data, &bundle); err != nil {
			return fhir.InvalidSpec("conformance bundle malformed: %v", err)
		}
		for _, entry := range bundle.Entry {
			if len(entry.Resource) == 0 {
				continue
			}
			if err := r.loadResource(entry.Resource); err != nil {
				return err
			}
		}
		return nil
	default:
		return r.loadResource(data)
	}
}

func (r *Registry) loadResource(data []byte) error {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fhir.InvalidSpec("conformance entry is not JSON: %v", err)
	}

	switch head.ResourceType {
	case "StructureDefinition":
		var sd StructureDefinition
		if err := json.Unmarshal(data, &sd); err != nil {
			return fhir.InvalidSpec("StructureDefinition malformed: %v", err)
		}
		return r.RegisterDefinition(&sd)
	case "SearchParameter":
		var sp SearchParameter
		if err := json.Unmarshal(data, &sp); err != nil {
			return fhir.InvalidSpec("SearchParameter malformed: %v", err)
		}
		return r.RegisterParam(&sp)
	default:
		// CodeSystems, ValueSets and the rest are fed to the terminology
		// service elsewhere; ignore them here.
		return nil
	}
}
