package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kombuciao-api/models"
	"kombuciao-api/services"
)

// StoreServicer is what the store handlers need from the directory.
type StoreServicer interface {
	Create(ctx context.Context, in services.CreateStoreInput) (*models.Store, error)
	Get(ctx context.Context, id string) (*models.Store, error)
	Update(ctx context.Context, id string, in services.StoreUpdate) (*models.Store, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, params services.SearchParams) (services.SearchResult, error)
	Stats(ctx context.Context, geo *services.GeoFilter) (models.StoreStats, error)
}

var _ StoreServicer = (*services.StoreService)(nil)

type StoreController struct {
	svc StoreServicer
	log logrus.FieldLogger
}

func NewStoreController(svc StoreServicer, log logrus.FieldLogger) *StoreController {
	return &StoreController{svc: svc, log: log}
}

// SearchStores handles GET /stores.
func (h *StoreController) SearchStores(c *gin.Context) {
	params, err := parseSearchParams(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	res, err := h.svc.Search(c.Request.Context(), params)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondPage(c, res.Stores, res.Total)
}

// GetStoreStats handles GET /stores/stats.
func (h *StoreController) GetStoreStats(c *gin.Context) {
	geo, err := parseGeo(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	stats, err := h.svc.Stats(c.Request.Context(), geo)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, stats)
}

func (h *StoreController) GetStore(c *gin.Context) {
	store, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, store)
}

func (h *StoreController) CreateStore(c *gin.Context) {
	var input services.CreateStoreInput
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidBody(c)
		return
	}
	store, err := h.svc.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusCreated, store)
}

func (h *StoreController) UpdateStore(c *gin.Context) {
	var input services.StoreUpdate
	if err := c.ShouldBindJSON(&input); err != nil {
		invalidBody(c)
		return
	}
	store, err := h.svc.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondData(c, http.StatusOK, store)
}

func (h *StoreController) DeleteStore(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c)
}
