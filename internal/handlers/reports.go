package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"medical-center-server/internal/reports"
	"medical-center-server/internal/utils"
)

const recentVisitsLimit = 10

// ReportHandler serves the admin dashboard and reports.
type ReportHandler struct {
	Reports *reports.Service
	Logger  zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(svc *reports.Service, logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{Reports: svc, Logger: logger}
}

func (h *ReportHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reports.ErrInvalidPeriod), errors.Is(err, reports.ErrInvalidReportType):
		utils.BadRequest(c, err.Error())
	default:
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("report failed")
		utils.InternalServerError(c, "Failed to build report")
	}
}

// Statistics returns the headline counts.
func (h *ReportHandler) Statistics(c *gin.Context) {
	st, err := h.Reports.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, "Statistics fetched successfully", st)
}

// NewPatientsMonthly lists patients first seen in ?year=&month=, defaulting
// to the current month.
func (h *ReportHandler) NewPatientsMonthly(c *gin.Context) {
	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	var err error
	if v := c.Query("year"); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			utils.BadRequest(c, "year must be a number")
			return
		}
	}
	if v := c.Query("month"); v != "" {
		if month, err = strconv.Atoi(v); err != nil {
			utils.BadRequest(c, "month must be a number")
			return
		}
	}

	patients, err := h.Reports.NewPatientsMonthly(c.Request.Context(), year, time.Month(month))
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, "New patients fetched successfully", gin.H{
		"year":     year,
		"month":    month,
		"count":    len(patients),
		"patients": patients,
	})
}

// RecentVisits returns the latest visits across every center.
func (h *ReportHandler) RecentVisits(c *gin.Context) {
	visits, err := h.Reports.RecentVisits(c.Request.Context(), recentVisitsLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, "Recent visits fetched successfully", visits)
}

// Custom builds the filtered patient or visit report.
func (h *ReportHandler) Custom(c *gin.Context) {
	var f reports.CustomFilter
	if !utils.BindAndValidate(c, &f) {
		return
	}
	rep, err := h.Reports.CustomReport(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, "Report generated successfully", rep)
}

// Medicines aggregates dispenses per medicine.
func (h *ReportHandler) Medicines(c *gin.Context) {
	var f reports.MedicineFilter
	if !utils.BindAndValidate(c, &f) {
		return
	}
	usage, err := h.Reports.MedicineReport(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	utils.Success(c, "Medicine report generated successfully", usage)
}
