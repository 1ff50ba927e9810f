package handlers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// ReportExportHandler exports request data for offline review.
type ReportExportHandler struct {
	db *gorm.DB
}

func NewReportExportHandler(db *gorm.DB) *ReportExportHandler {
	return &ReportExportHandler{db: db}
}

var exportHeaders = []string{
	"Request Number", "Title", "Status", "Delivery Status", "Priority",
	"Requester", "Team", "Items", "Created At", "Submitted At", "Completed At",
}

// ExportRequestsToExcel streams an xlsx of requests matching the filters
// GET /api/v1/reports/requests/export?status=&team_id=&from=&to=
func (h *ReportExportHandler) ExportRequestsToExcel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapExportReports) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "report export requires a privileged role"})
		return
	}

	requests, err := h.queryRequests(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Requests"
	f.SetSheetName("Sheet1", sheet)

	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}
	style, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	endCell, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	f.SetCellStyle(sheet, "A1", endCell, style)

	for i, request := range requests {
		row := exportRow(&request)
		for j, value := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to generate Excel file")
		return
	}

	filename := fmt.Sprintf("material_requests_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buffer.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buffer.Bytes())
}

// ExportRequestsToCSV streams a CSV of requests matching the filters
// GET /api/v1/reports/requests/export.csv?status=&team_id=&from=&to=
func (h *ReportExportHandler) ExportRequestsToCSV(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !Can(actor, "", CapExportReports) {
		writeDomainError(w, &PermissionError{ActorID: actor.ID, Msg: "report export requires a privileged role"})
		return
	}

	requests, err := h.queryRequests(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)
	writer.Write(exportHeaders)
	for _, request := range requests {
		writer.Write(exportRow(&request))
	}
	writer.Flush()

	filename := fmt.Sprintf("material_requests_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buffer.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buffer.Bytes())
}

func (h *ReportExportHandler) queryRequests(r *http.Request) ([]models.MaterialRequest, error) {
	query := h.db.Model(&models.MaterialRequest{}).
		Preload("Items").
		Preload("Team")

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if teamID := r.URL.Query().Get("team_id"); teamID != "" {
		query = query.Where("team_id = ?", teamID)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, &ValidationError{Msg: "invalid 'from' date, expected YYYY-MM-DD"}
		}
		query = query.Where("created_at >= ?", t)
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, &ValidationError{Msg: "invalid 'to' date, expected YYYY-MM-DD"}
		}
		query = query.Where("created_at < ?", t.AddDate(0, 0, 1))
	}

	var requests []models.MaterialRequest
	if err := query.Order("created_at DESC").Limit(5000).Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to query requests for export: %w", err)
	}
	return requests, nil
}

func exportRow(request *models.MaterialRequest) []string {
	itemSummaries := make([]string, 0, len(request.Items))
	for _, item := range request.Items {
		itemSummaries = append(itemSummaries, fmt.Sprintf("%s x%.0f (%s)", item.Name, item.Quantity, item.Status))
	}
	teamName := ""
	if request.Team != nil {
		teamName = request.Team.Name
	}
	return []string{
		request.RequestNumber,
		request.Title,
		request.Status,
		request.DeliveryStatus,
		request.Priority,
		request.RequesterID,
		teamName,
		strings.Join(itemSummaries, "; "),
		formatExportTime(&request.CreatedAt),
		formatExportTime(request.SubmittedAt),
		formatExportTime(request.CompletedAt),
	}
}

func formatExportTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
