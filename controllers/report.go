package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	middlewares "kombuciao-api/middleware"
	"kombuciao-api/models"
	"kombuciao-api/services"
)

// ReportServicer is what the report handlers need from the ledger.
type ReportServicer interface {
	Create(ctx context.Context, in services.CreateReportInput) (*models.Report, error)
	Get(ctx context.Context, id string) (*models.ReportView, error)
	List(ctx context.Context, params services.ListReportsParams) ([]models.ReportView, int64, error)
	Delete(ctx context.Context, id string) error
	CreateVote(ctx context.Context, reportID, voterID string, t models.VoteType) (*models.Report, error)
	DeleteVote(ctx context.Context, reportID, voteID, voterID string) (services.VoteRemoval, error)
}

var _ ReportServicer = (*services.ReportService)(nil)

type ReportController struct {
	svc ReportServicer
	log logrus.FieldLogger
}

func NewReportController(svc ReportServicer, log logrus.FieldLogger) *ReportController {
	return &ReportController{svc: svc, log: log}
}

// ListReports handles GET /reports?storeId=&since=&page=&pageSize=.
func (h *ReportController) ListReports(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	since, err := parseSince(c.Query("since"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	views, total, err := h.svc.List(c.Request.Context(), services.ListReportsParams{
		StoreID: c.Query("storeId"),
		Since:   since,
		Page:    page,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondPage(c, views, total)
}

func (h *ReportController) GetReport(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, view)
}

// CreateReport handles POST /reports. The voter id header wins over the
// voterId body field.
func (h *ReportController) CreateReport(c *gin.Context) {
	var input services.CreateReportInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidBody(c)
		return
	}
	if voterID := c.GetString(middlewares.VoterIDKey); voterID != "" {
		input.VoterID = voterID
	}
	rep, err := h.svc.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusCreated, rep)
}

func (h *ReportController) DeleteReport(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c)
}

// CreateVote handles POST /reports/:id/vote with body {"type": "confirm"|"deny"}.
func (h *ReportController) CreateVote(c *gin.Context) {
	var input struct {
		Type models.VoteType `json:"type"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidBody(c)
		return
	}
	rep, err := h.svc.CreateVote(c.Request.Context(), c.Param("id"), c.GetString(middlewares.VoterIDKey), input.Type)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, rep)
}

// DeleteVote handles DELETE /reports/:id/vote/:voteId. When the vote was the
// report's last, data is null and reportDeleted is true.
func (h *ReportController) DeleteVote(c *gin.Context) {
	res, err := h.svc.DeleteVote(c.Request.Context(), c.Param("id"), c.Param("voteId"), c.GetString(middlewares.VoterIDKey))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if res.ReportDeleted {
		c.JSON(http.StatusOK, gin.H{"ok": true, "data": nil, "reportDeleted": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": res.Report, "reportDeleted": false})
}
