package services

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/SAP-F-2025/copy-workflow-service/internal/errors"
	"github.com/SAP-F-2025/copy-workflow-service/internal/models"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const auditExportPageSize = repositories.MaxPageSize

// ExportXLSX writes every audit row matching filters to a one-sheet
// workbook, paging through the repository.
func (s *auditService) ExportXLSX(ctx context.Context, filters repositories.AuditFilters) ([]byte, error) {
	var out []byte
	err := s.read(ctx, "audit_export", filters.CopyID, func(ctx context.Context) error {
		var rows []*models.AuditEvent
		filters.Limit = auditExportPageSize
		filters.Offset = 0
		for {
			page, total, err := s.repo.Audit().Query(ctx, nil, filters)
			if err != nil {
				return apperrors.Wrap(apperrors.CodeInternal, err, "failed to query audit log")
			}
			rows = append(rows, page...)
			filters.Offset += len(page)
			if len(page) == 0 || int64(filters.Offset) >= total {
				break
			}
		}

		var err error
		out, err = writeAuditWorkbook(rows)
		return err
	})
	return out, err
}

func writeAuditWorkbook(rows []*models.AuditEvent) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheetName := "Audit"

	// The default sheet becomes the audit sheet
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	// Write headers
	headers := []string{
		"Sequence", "Copy", "Actor", "Action", "Occurred At", "Request", "Metadata", "Prev Hash", "Hash",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
	}

	// Write data
	for rowIndex, event := range rows {
		row := []interface{}{
			event.ID,
			event.CopyID,
			event.ActorID,
			string(event.Action),
			event.OccurredAt.UTC().Format(time.RFC3339Nano),
			event.RequestID,
			describeMetadata(event.Metadata),
			event.PrevHash,
			event.Hash,
		}
		for colIndex, value := range row {
			cell := fmt.Sprintf("%c%d", 'A'+colIndex, rowIndex+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	// Save to buffer
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}

	return buf.Bytes(), nil
}
