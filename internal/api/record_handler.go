package api

import (
	"errors"
	"net/http"

	"alcyxob/filemanager/internal/domain"
	"alcyxob/filemanager/internal/payload"
	"alcyxob/filemanager/internal/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RecordHandler holds the record service dependency.
type RecordHandler struct {
	recordService service.RecordService
}

// NewRecordHandler creates a new RecordHandler.
func NewRecordHandler(recordService service.RecordService) *RecordHandler {
	return &RecordHandler{recordService: recordService}
}

// --- DTOs ---

// RecordRequest carries the record data. File fields hold the original
// file name for new files, or the stored object key to keep a file.
type RecordRequest struct {
	Data map[string]any `json:"data" binding:"required"`
}

// --- Handler Methods ---

// ListKinds godoc
// @Summary List configured record kinds
// @Tags Records
// @Produce json
// @Security BearerAuth
// @Success 200 {array} string
// @Router /kinds [get]
func (h *RecordHandler) ListKinds(c *gin.Context) {
	c.JSON(http.StatusOK, h.recordService.Kinds())
}

// CreateRecord godoc
// @Summary Create a record
// @Description Saves the record and returns presigned upload URLs for each new file.
// @Tags Records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param kind path string true "Record kind"
// @Param record body RecordRequest true "Record data"
// @Success 201 {object} service.RecordWithUploads
// @Failure 400 {object} gin.H "Invalid input"
// @Failure 404 {object} gin.H "Unknown kind"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /records/{kind} [post]
func (h *RecordHandler) CreateRecord(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	userID, _ := getUserIDFromContext(c)
	result, err := h.recordService.CreateRecord(c.Request.Context(), c.Param("kind"), userID, req.Data)
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to create record.")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// ListRecords godoc
// @Summary List records of a kind
// @Description Each file field gets a sibling "<field>_url" with a download URL.
// @Tags Records
// @Produce json
// @Security BearerAuth
// @Param kind path string true "Record kind"
// @Success 200 {array} domain.Record
// @Failure 404 {object} gin.H "Unknown kind"
// @Router /records/{kind} [get]
func (h *RecordHandler) ListRecords(c *gin.Context) {
	records, err := h.recordService.ListRecords(c.Request.Context(), c.Param("kind"))
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to retrieve records.")
		return
	}

	if records == nil {
		c.JSON(http.StatusOK, []domain.Record{})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetRecord godoc
// @Summary Get a record
// @Tags Records
// @Produce json
// @Security BearerAuth
// @Param kind path string true "Record kind"
// @Param id path string true "Record ID"
// @Success 200 {object} domain.Record
// @Failure 400 {object} gin.H "Invalid ID"
// @Failure 404 {object} gin.H "Not found"
// @Router /records/{kind}/{id} [get]
func (h *RecordHandler) GetRecord(c *gin.Context) {
	id, ok := parseRecordID(c)
	if !ok {
		return
	}

	record, err := h.recordService.GetRecord(c.Request.Context(), c.Param("kind"), id)
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to retrieve record.")
		return
	}
	c.JSON(http.StatusOK, record)
}

// UpdateRecord godoc
// @Summary Replace a record's data
// @Description Changed file fields get new upload URLs; replaced or cleared files are deleted.
// @Tags Records
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param kind path string true "Record kind"
// @Param id path string true "Record ID"
// @Param record body RecordRequest true "Record data"
// @Success 200 {object} service.RecordWithUploads
// @Failure 400 {object} gin.H "Invalid input"
// @Failure 404 {object} gin.H "Not found"
// @Router /records/{kind}/{id} [put]
func (h *RecordHandler) UpdateRecord(c *gin.Context) {
	id, ok := parseRecordID(c)
	if !ok {
		return
	}
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	result, err := h.recordService.UpdateRecord(c.Request.Context(), c.Param("kind"), id, req.Data)
	if err != nil {
		h.abortWithServiceError(c, err, "Failed to update record.")
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteRecord godoc
// @Summary Delete a record and its files
// @Tags Records
// @Security BearerAuth
// @Param kind path string true "Record kind"
// @Param id path string true "Record ID"
// @Success 204
// @Failure 404 {object} gin.H "Not found"
// @Router /records/{kind}/{id} [delete]
func (h *RecordHandler) DeleteRecord(c *gin.Context) {
	id, ok := parseRecordID(c)
	if !ok {
		return
	}

	if err := h.recordService.DeleteRecord(c.Request.Context(), c.Param("kind"), id); err != nil {
		h.abortWithServiceError(c, err, "Failed to delete record.")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseRecordID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid record ID format.")
		return primitive.NilObjectID, false
	}
	return id, true
}

// abortWithServiceError maps service errors to HTTP status codes.
func (h *RecordHandler) abortWithServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrUnknownKind), errors.Is(err, service.ErrRecordNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrValidationFailed),
		errors.Is(err, payload.ErrNotNavigable),
		errors.Is(err, payload.ErrIndexOutOfRange):
		abortWithError(c, http.StatusBadRequest, err.Error())
	default:
		loggerFromContext(c).WithError(err).Error(fallback)
		abortWithError(c, http.StatusInternalServerError, fallback)
	}
}
