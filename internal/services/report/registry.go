package report

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/models"
)

// Scalar names the builders know how to fill. Spreadsheet manifests map
// names to cells; document manifests list the names their variant files
// carry as {NAME} placeholders.
var (
	requiredSpreadsheetScalars = []string{"ORG", "CLASS", "COUNT", "TEACHER", "TITLE"}
	requiredDocumentFields     = []string{"ORG", "CLASS", "TEACHER", "SUBJECT", "PERIOD", "DATE"}

	knownScalars = map[string]bool{
		"ORG": true, "CLASS": true, "COUNT": true, "TEACHER": true,
		"TITLE": true, "SUBJECT": true, "PERIOD": true, "DATE": true,
	}
)

// Variant is one locale rendition of a template: the workbook or document
// file plus the locale's page and header captions.
type Variant struct {
	File   string            `yaml:"file"`
	Labels map[string]string `yaml:"labels,omitempty"`

	path string
}

// Path returns the variant file location resolved against the templates
// directory.
func (v Variant) Path() string { return v.path }

// Label returns the caption for key, falling back to the built-in Russian
// caption when the manifest does not override it.
func (v Variant) Label(key, fallback string) string {
	if l, ok := v.Labels[key]; ok && l != "" {
		return l
	}
	return fallback
}

// Region declares the repeating-row region: template sheet and anchor row
// for spreadsheets, a placeholder name for documents.
type Region struct {
	Sheet       string `yaml:"sheet,omitempty"`
	Row         int    `yaml:"row,omitempty"`
	Placeholder string `yaml:"placeholder,omitempty"`
}

// Template is one manifest from the templates directory.
type Template struct {
	ID       string              `yaml:"id"`
	Kind     models.ArtifactKind `yaml:"kind"`
	Scalars  map[string]string   `yaml:"scalars,omitempty"` // spreadsheet: scalar name -> cell
	Fields   []string            `yaml:"fields,omitempty"`  // document: scalar placeholder names
	Region   Region              `yaml:"region"`
	Variants map[string]Variant  `yaml:"variants"`
}

// Registry holds the loaded template manifests. Manifests are validated
// against their variant files at load, so a broken template surfaces at
// startup instead of failing the first job that needs it.
type Registry struct {
	logger    arbor.ILogger
	templates map[string]*Template
}

// LoadRegistry reads every *.yaml manifest under the configured templates
// directory.
func LoadRegistry(config *common.Config, logger arbor.ILogger) (*Registry, error) {
	dir := config.Templates.Dir
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, models.WrapScrapeError(models.ErrKindTemplate, err, "templates directory %s unreadable", dir)
	}

	reg := &Registry{
		logger:    logger,
		templates: make(map[string]*Template),
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		tpl, err := loadManifest(filepath.Join(dir, name), dir)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.templates[tpl.ID]; dup {
			return nil, models.NewScrapeError(models.ErrKindTemplate,
				"duplicate template id %q in %s", tpl.ID, name)
		}
		reg.templates[tpl.ID] = tpl

		logger.Info().
			Str("template", tpl.ID).
			Str("kind", string(tpl.Kind)).
			Int("variants", len(tpl.Variants)).
			Msg("Template registered")
	}

	if len(reg.templates) == 0 {
		logger.Warn().Str("dir", dir).Msg("No template manifests found, synthesis will fail until one is added")
	}
	return reg, nil
}

// Get returns the template for id.
func (r *Registry) Get(id string) (*Template, error) {
	tpl, ok := r.templates[id]
	if !ok {
		return nil, models.NewScrapeError(models.ErrKindTemplate, "unknown template %q", id)
	}
	return tpl, nil
}

// Variant resolves the locale rendition of a template. A locale the manifest
// does not declare is a hard failure, never a fallback to another language.
func (r *Registry) Variant(id, locale string) (*Template, Variant, error) {
	tpl, err := r.Get(id)
	if err != nil {
		return nil, Variant{}, err
	}
	v, ok := tpl.Variants[locale]
	if !ok {
		return nil, Variant{}, models.NewScrapeError(models.ErrKindTemplate,
			"template %q has no %s variant", id, locale)
	}
	return tpl, v, nil
}

// List returns the loaded templates sorted by id.
func (r *Registry) List() []*Template {
	out := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func loadManifest(path, dir string) (*Template, error) {
	base := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.WrapScrapeError(models.ErrKindTemplate, err, "manifest %s unreadable", base)
	}

	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, models.WrapScrapeError(models.ErrKindTemplate, err, "manifest %s is not valid YAML", base)
	}

	if tpl.ID == "" {
		return nil, models.NewScrapeError(models.ErrKindTemplate, "manifest %s has no template id", base)
	}
	if tpl.Kind != models.ArtifactSpreadsheet && tpl.Kind != models.ArtifactDocument {
		return nil, models.NewScrapeError(models.ErrKindTemplate,
			"template %q kind must be spreadsheet or document, got %q", tpl.ID, tpl.Kind)
	}
	if len(tpl.Variants) == 0 {
		return nil, models.NewScrapeError(models.ErrKindTemplate, "template %q declares no locale variants", tpl.ID)
	}

	for locale, variant := range tpl.Variants {
		if locale != "kk" && locale != "ru" {
			return nil, models.NewScrapeError(models.ErrKindTemplate,
				"template %q variant locale must be kk or ru, got %q", tpl.ID, locale)
		}
		if variant.File == "" {
			return nil, models.NewScrapeError(models.ErrKindTemplate,
				"template %q %s variant names no file", tpl.ID, locale)
		}
		variant.path = filepath.Join(dir, variant.File)
		if _, err := os.Stat(variant.path); err != nil {
			return nil, models.WrapScrapeError(models.ErrKindTemplate, err,
				"template %q %s variant file %s missing", tpl.ID, locale, variant.File)
		}
		tpl.Variants[locale] = variant
	}

	switch tpl.Kind {
	case models.ArtifactSpreadsheet:
		if err := validateSpreadsheet(&tpl); err != nil {
			return nil, err
		}
	case models.ArtifactDocument:
		if err := validateDocument(&tpl); err != nil {
			return nil, err
		}
	}
	return &tpl, nil
}

func validateSpreadsheet(tpl *Template) error {
	if tpl.Region.Sheet == "" || tpl.Region.Row < 2 {
		return models.NewScrapeError(models.ErrKindTemplate,
			"template %q needs a region sheet and an anchor row below the header", tpl.ID)
	}

	for name, cell := range tpl.Scalars {
		if name != "TITLE" && !knownScalars[name] {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q scalar %q has no data source", tpl.ID, name)
		}
		if _, _, err := excelize.CellNameToCoordinates(cell); err != nil {
			return models.WrapScrapeError(models.ErrKindTemplate, err,
				"template %q scalar %s cell %q", tpl.ID, name, cell)
		}
	}
	for _, required := range requiredSpreadsheetScalars {
		if _, ok := tpl.Scalars[required]; !ok {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q declares no %s scalar cell", tpl.ID, required)
		}
	}

	for locale, variant := range tpl.Variants {
		f, err := excelize.OpenFile(variant.Path())
		if err != nil {
			return models.WrapScrapeError(models.ErrKindTemplate, err,
				"template %q %s variant is not a workbook", tpl.ID, locale)
		}
		idx, err := f.GetSheetIndex(tpl.Region.Sheet)
		f.Close()
		if err != nil || idx < 0 {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q %s variant has no sheet %q", tpl.ID, locale, tpl.Region.Sheet)
		}
	}
	return nil
}

func validateDocument(tpl *Template) error {
	if tpl.Region.Placeholder == "" {
		return models.NewScrapeError(models.ErrKindTemplate,
			"template %q declares no region placeholder", tpl.ID)
	}

	declared := make(map[string]bool, len(tpl.Fields))
	for _, field := range tpl.Fields {
		if !knownScalars[field] || field == "TITLE" {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q field %q has no data source", tpl.ID, field)
		}
		declared[field] = true
	}
	for _, required := range requiredDocumentFields {
		if !declared[required] {
			return models.NewScrapeError(models.ErrKindTemplate,
				"template %q declares no %s field", tpl.ID, required)
		}
	}

	want := append(append([]string{}, tpl.Fields...), tpl.Region.Placeholder)
	for locale, variant := range tpl.Variants {
		text, err := documentText(variant.Path())
		if err != nil {
			return models.WrapScrapeError(models.ErrKindTemplate, err,
				"template %q %s variant is not a document", tpl.ID, locale)
		}
		for _, name := range want {
			if !strings.Contains(text, "{"+name+"}") {
				return models.NewScrapeError(models.ErrKindTemplate,
					"template %q %s variant is missing the {%s} placeholder", tpl.ID, locale, name)
			}
		}
	}
	return nil
}

var xmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// documentText extracts the visible text of a docx body. Word splits
// placeholder text across runs, so a raw byte search would miss them; with
// the markup stripped the {NAME} tokens read contiguously again.
func documentText(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return xmlTagPattern.ReplaceAllString(string(data), ""), nil
	}
	return "", fmt.Errorf("no word/document.xml entry")
}
