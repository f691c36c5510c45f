// Package i18n holds the message catalog for user-facing summaries.
//
// There is no package-level state: callers build a Catalog once and pass
// the Printer for the chosen locale to whatever renders text.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The key doubles as the English text.
const (
	MsgExportSummary   = "Exported %d entities to %s"
	MsgExportCancelled = "Export cancelled after %d entities"
	MsgKindCount       = "  %-10s %d"
	MsgWarning         = "warning: %s"
	MsgImportSummary   = "Imported %d entities"
	MsgImportDryRun    = "Dry run: %d entities planned, nothing written"
	MsgImportCancelled = "Import cancelled after %d entities"
	MsgTally           = "  %-10s created=%d updated=%d unchanged=%d skipped=%d failed=%d"
	MsgEntityError     = "error: %s"
	MsgRunSummary      = "Ran %d cases: %d passed, %d failed, %d runner errors"
	MsgRunCancelled    = "Run cancelled after %d cases"
	MsgDocumentValid   = "%s: valid document, %d entities"
	MsgCaseOutcome     = "  %-12s exit=%-3d %s"
	MsgManualCases     = "  %d manual cases not run"
)

var german = map[string]string{
	MsgExportSummary:   "%d Entitäten nach %s exportiert",
	MsgExportCancelled: "Export nach %d Entitäten abgebrochen",
	MsgKindCount:       "  %-10s %d",
	MsgWarning:         "Warnung: %s",
	MsgImportSummary:   "%d Entitäten importiert",
	MsgImportDryRun:    "Probelauf: %d Entitäten geplant, nichts geschrieben",
	MsgImportCancelled: "Import nach %d Entitäten abgebrochen",
	MsgTally:           "  %-10s neu=%d geändert=%d unverändert=%d übersprungen=%d fehlgeschlagen=%d",
	MsgEntityError:     "Fehler: %s",
	MsgRunSummary:      "%d Fälle ausgeführt: %d bestanden, %d fehlgeschlagen, %d Runner-Fehler",
	MsgRunCancelled:    "Ausführung nach %d Fällen abgebrochen",
	MsgDocumentValid:   "%s: gültiges Dokument, %d Entitäten",
	MsgCaseOutcome:     "  %-12s exit=%-3d %s",
	MsgManualCases:     "  %d manuelle Fälle nicht ausgeführt",
}

var english = []string{
	MsgExportSummary, MsgExportCancelled, MsgKindCount, MsgWarning,
	MsgImportSummary, MsgImportDryRun, MsgImportCancelled, MsgTally,
	MsgEntityError, MsgRunSummary, MsgRunCancelled, MsgDocumentValid,
	MsgCaseOutcome, MsgManualCases,
}

// Catalog is an immutable set of translations.
type Catalog struct {
	builder *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
}

// New builds the catalog with English and German messages.
func New() (*Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, key := range english {
		if err := b.SetString(language.English, key, key); err != nil {
			return nil, fmt.Errorf("catalog en %q: %w", key, err)
		}
	}
	for key, msg := range german {
		if err := b.SetString(language.German, key, msg); err != nil {
			return nil, fmt.Errorf("catalog de %q: %w", key, err)
		}
	}

	tags := []language.Tag{language.English, language.German}
	return &Catalog{
		builder: b,
		tags:    tags,
		matcher: language.NewMatcher(tags),
	}, nil
}

// Printer returns a printer for the closest supported language.
// Unsupported languages fall back to English.
func (c *Catalog) Printer(tag language.Tag) *message.Printer {
	_, idx, _ := c.matcher.Match(tag)
	return message.NewPrinter(c.tags[idx], message.Catalog(c.builder))
}

// Languages returns the supported languages.
func (c *Catalog) Languages() []language.Tag {
	out := make([]language.Tag, len(c.tags))
	copy(out, c.tags)
	return out
}

// ParseLocale parses a BCP 47 locale such as "de" or "en-US".
// An empty string selects English.
func ParseLocale(s string) (language.Tag, error) {
	if s == "" {
		return language.English, nil
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und, fmt.Errorf("invalid locale %q: %w", s, err)
	}
	return tag, nil
}

// Default returns an English printer over a fresh catalog. Intended for
// tests and callers that do not localize.
func Default() *message.Printer {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c.Printer(language.English)
}
