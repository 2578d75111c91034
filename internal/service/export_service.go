package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/models"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
	"github.com/noah-isme/subject-registration-api/pkg/export"
)

// ExportFormat identifies a roster rendering.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type rosterSource interface {
	Roster(ctx context.Context, id string) (*models.Subject, []models.RegistrationDetail, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders subject rosters as downloadable files.
type ExportService struct {
	rosters   rosterSource
	renderers map[ExportFormat]renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(rosters rosterSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		rosters: rosters,
		renderers: map[ExportFormat]renderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Roster renders the registrations of a subject in the requested format.
func (s *ExportService) Roster(ctx context.Context, subjectID string, format ExportFormat) (*ExportFile, error) {
	if format == "" {
		format = ExportFormatCSV
	}
	r, ok := s.renderers[ExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	subject, roster, err := s.rosters.Roster(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	payload, err := r.Render(rosterDataset(subject, roster))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	s.logger.Info("roster exported", zap.String("subject_id", subject.ID), zap.String("format", string(format)), zap.Int("rows", len(roster)))
	return &ExportFile{
		Filename:    fmt.Sprintf("%s_roster_%s.%s", sanitizeFilename(subject.Code), s.now().UTC().Format("20060102_150405"), strings.ToLower(string(format))),
		ContentType: r.ContentType(),
		Data:        payload,
	}, nil
}

func rosterDataset(subject *models.Subject, roster []models.RegistrationDetail) export.Dataset {
	data := export.Dataset{
		Title:    fmt.Sprintf("%s %s roster", subject.Code, subject.Name),
		Subtitle: fmt.Sprintf("%s %s, %d seats remaining", subject.Term, subject.AcademicYear, subject.RemainingCapacity),
		Headers:  []string{"no", "username", "full_name", "registered_at"},
		Rows:     make([]map[string]string, 0, len(roster)),
	}
	for i, entry := range roster {
		data.Rows = append(data.Rows, map[string]string{
			"no":            fmt.Sprintf("%d", i+1),
			"username":      entry.Username,
			"full_name":     entry.FullName,
			"registered_at": entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return data
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
