// Package report synthesizes xlsx and docx artifacts from normalized grade
// records and locale template variants. Given the same records, template and
// locale the output is identical except for the generation timestamp.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
	"github.com/ed-baer97/mektab/internal/services/normalizer"
)

const dateLayout = "02.01.2006"

// Service renders report artifacts and records them in artifact storage.
type Service struct {
	config    *common.Config
	registry  *Registry
	artifacts interfaces.ArtifactStorage
	logger    arbor.ILogger
	clock     func() time.Time
}

// NewService creates the synthesizer. The clock feeds the generation
// timestamp, everything else in the output is a function of the input.
func NewService(config *common.Config, registry *Registry, artifacts interfaces.ArtifactStorage, logger arbor.ILogger) *Service {
	return &Service{
		config:    config,
		registry:  registry,
		artifacts: artifacts,
		logger:    logger,
		clock:     time.Now,
	}
}

// Synthesize renders the template variant for the job's locale, writes the
// artifact file under the output directory and stores its record.
func (s *Service) Synthesize(ctx context.Context, input interfaces.SynthesisInput) (*models.ReportArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tpl, variant, err := s.registry.Variant(input.TemplateID, input.Locale)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.config.Output.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	filename := models.ArtifactFilename(input.JobID, tpl.ID, input.Locale, tpl.Kind)
	outPath := filepath.Join(s.config.Output.Dir, filename)

	generated := s.clock()
	switch tpl.Kind {
	case models.ArtifactSpreadsheet:
		err = buildSpreadsheet(tpl, variant, input, outPath, generated)
	case models.ArtifactDocument:
		err = buildDocument(tpl, variant, input, outPath, generated)
	default:
		err = models.NewScrapeError(models.ErrKindTemplate, "template %q has kind %q", tpl.ID, tpl.Kind)
	}
	if err != nil {
		return nil, err
	}

	sum, size, err := fileDigest(outPath)
	if err != nil {
		return nil, fmt.Errorf("digest artifact %s: %w", filename, err)
	}

	artifact := &models.ReportArtifact{
		ID:         uuid.New().String(),
		JobID:      input.JobID,
		TemplateID: tpl.ID,
		Locale:     input.Locale,
		Kind:       tpl.Kind,
		Filename:   filename,
		Path:       outPath,
		SHA256:     sum,
		SizeBytes:  size,
		CreatedAt:  generated,
	}
	if err := s.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("store artifact record: %w", err)
	}

	s.logger.Info().
		Str("job_id", input.JobID).
		Str("template", tpl.ID).
		Str("locale", input.Locale).
		Str("file", filename).
		Int64("bytes", size).
		Msg("Report artifact written")
	return artifact, nil
}

// resolveScalar maps a placeholder name onto its value for this synthesis.
func resolveScalar(name string, input interfaces.SynthesisInput, generated time.Time) (interface{}, bool) {
	switch name {
	case "ORG":
		return input.OrgName, true
	case "CLASS":
		return normalizer.CanonicalClassLabel(input.ClassLabel), true
	case "COUNT":
		return len(input.Grades), true
	case "TEACHER":
		return input.Teacher, true
	case "SUBJECT":
		return input.Subject, true
	case "PERIOD":
		return periodCaption(input), true
	case "DATE":
		return generated.Format(dateLayout), true
	default:
		return nil, false
	}
}

func periodCaption(input interfaces.SynthesisInput) string {
	if input.PeriodLabel != "" {
		return input.PeriodLabel
	}
	return strconv.Itoa(input.Period)
}

// displayValue is the cell text for a grade value: the digit for numeric
// grades, the raw journal token for absences and unrecognized values.
func displayValue(v models.GradeValue) string {
	switch v.Kind {
	case models.ValueNumeric:
		return strconv.Itoa(v.Numeric)
	case models.ValueAbsence, models.ValueUnknown:
		return v.Raw
	default:
		return ""
	}
}

// flaggedName marks rows the normalizer could not fully type so they stand
// out in the finished report.
func flaggedName(rec models.GradeRecord) string {
	if rec.Complete {
		return rec.StudentName
	}
	return rec.StudentName + " *"
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
