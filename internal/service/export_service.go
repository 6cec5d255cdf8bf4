package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	appErrors "github.com/noah-isme/assessment-api/pkg/errors"
	"github.com/noah-isme/assessment-api/pkg/export"
)

type couponLister interface {
	List(ctx context.Context) ([]models.Coupon, bool, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

// ExportResult is a rendered coupon listing ready to be streamed.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the coupon list as CSV or PDF.
type ExportService struct {
	coupons   couponLister
	renderers map[dto.ExportFormat]datasetRenderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to the defaults.
func NewExportService(coupons couponLister, logger *zap.Logger, csv, pdf datasetRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		coupons: coupons,
		renderers: map[dto.ExportFormat]datasetRenderer{
			dto.ExportFormatCSV: csv,
			dto.ExportFormatPDF: pdf,
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExportCoupons renders every coupon in the requested format.
func (s *ExportService) ExportCoupons(ctx context.Context, format dto.ExportFormat) (*ExportResult, error) {
	format = dto.ExportFormat(strings.ToLower(strings.TrimSpace(string(format))))
	if format == "" {
		format = dto.ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	coupons, _, err := s.coupons.List(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := renderer.Render(couponDataset(coupons))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("coupons exported", zap.String("format", string(format)), zap.Int("rows", len(coupons)))
	return &ExportResult{
		Filename:    fmt.Sprintf("coupons_%s.%s", s.now().Format("20060102_150405"), format),
		ContentType: renderer.ContentType(),
		Payload:     payload,
	}, nil
}

func couponDataset(coupons []models.Coupon) export.Dataset {
	data := export.Dataset{
		Title: "Coupons",
		Columns: []export.Column{
			{Key: "code", Title: "Code", Weight: 2},
			{Key: "type", Title: "Type", Weight: 1.5},
			{Key: "status", Title: "Status", Weight: 1.5},
			{Key: "expiresAt", Title: "Expires At", Weight: 2.5},
			{Key: "maxUses", Title: "Max Uses"},
			{Key: "uses", Title: "Uses"},
			{Key: "assigned", Title: "Assigned"},
			{Key: "redeemed", Title: "Redeemed"},
			{Key: "createdAt", Title: "Created At", Weight: 2.5},
		},
		Rows: make([]map[string]string, 0, len(coupons)),
	}
	for _, c := range coupons {
		row := map[string]string{
			"code":      c.Code,
			"type":      string(c.Type),
			"status":    string(c.Status),
			"uses":      strconv.Itoa(c.Uses),
			"createdAt": c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if c.ExpiresAt != nil {
			row["expiresAt"] = c.ExpiresAt.UTC().Format(time.RFC3339)
		}
		if c.MaxUses != nil {
			row["maxUses"] = strconv.Itoa(*c.MaxUses)
		}
		switch c.Type {
		case models.CouponTypeIndividual:
			row["assigned"] = strconv.Itoa(len(c.AssignedUsers))
			redeemed := 0
			for _, a := range c.AssignedUsers {
				if a.Status == models.AssignmentStatusRedeemed {
					redeemed++
				}
			}
			row["redeemed"] = strconv.Itoa(redeemed)
		case models.CouponTypeGroup:
			row["redeemed"] = strconv.Itoa(len(c.RedeemedBy))
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}
