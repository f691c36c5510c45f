package importer

import (
	"slices"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/repository"
)

// MergeMode decides what happens when an imported entity already exists.
type MergeMode string

const (
	// MergeSkip leaves the existing entity untouched.
	MergeSkip MergeMode = "skip"
	// MergeOverwrite replaces every mutable field and link the document
	// carries. Fields the document omits are kept.
	MergeOverwrite MergeMode = "overwrite"
	// MergeUpdateMissing fills only fields and links that are empty in the
	// store. Manual edits in the target are never lost.
	MergeUpdateMissing MergeMode = "update-missing"
)

// DefaultMergeMode is the conservative mode.
const DefaultMergeMode = MergeUpdateMissing

// ParseMergeMode validates a mode name. Empty selects the default.
func ParseMergeMode(s string) (MergeMode, error) {
	switch m := MergeMode(s); m {
	case "":
		return DefaultMergeMode, nil
	case MergeSkip, MergeOverwrite, MergeUpdateMissing:
		return m, nil
	default:
		return "", entity.NewConfigurationError("unknown merge mode %q (want skip, overwrite or update-missing)", s)
	}
}

// mergePatch computes the changes incoming makes to existing under mode.
// An empty patch means the stored entity already agrees.
func mergePatch(mode MergeMode, existing, incoming *repository.Record) repository.Patch {
	var patch repository.Patch
	if mode == MergeSkip {
		return patch
	}

	for _, f := range incoming.Fields.SortedKeys() {
		v := incoming.Fields[f]
		if entity.IsEmpty(v) {
			continue
		}
		current := existing.Fields[f]
		var change bool
		switch mode {
		case MergeOverwrite:
			change = !entity.EqualValues(current, v)
		case MergeUpdateMissing:
			change = entity.IsEmpty(current)
		}
		if change {
			if patch.Fields == nil {
				patch.Fields = entity.Object{}
			}
			patch.Fields[f] = entity.CloneValue(v)
		}
	}

	for _, spec := range entity.SchemaOf(incoming.Kind).Links {
		if spec.Key {
			continue
		}
		targets := incoming.Links[spec.Name]
		if len(targets) == 0 {
			continue
		}
		current := existing.Links[spec.Name]
		var change bool
		switch mode {
		case MergeOverwrite:
			change = !slices.Equal(current, targets)
		case MergeUpdateMissing:
			change = len(current) == 0
		}
		if change {
			if patch.Links == nil {
				patch.Links = map[string][]string{}
			}
			patch.Links[spec.Name] = slices.Clone(targets)
		}
	}
	return patch
}
