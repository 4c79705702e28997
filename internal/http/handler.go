package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tonnage-service/internal/config"
	"tonnage-service/internal/domain/tonnage"
	"tonnage-service/internal/export"
	"tonnage-service/internal/http/middleware"
	"tonnage-service/internal/service"
	"tonnage-service/internal/vision"
)

const maxImageBytes = 20 << 20

type Handler struct {
	analysisService *service.AnalysisService
	config          *config.Config
	log             zerolog.Logger
}

func NewHandler(
	analysisService *service.AnalysisService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		analysisService: analysisService,
		config:          cfg,
		log:             log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/analyses", h.createAnalysis)
		public.GET("/history", h.listHistory)
		public.GET("/history/export", h.exportHistory)
		public.GET("/vehicles", h.listVehicles)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/vehicles", h.upsertVehicle)
		protected.POST("/cache/invalidate", h.invalidateCache)
	}
}

func (h *Handler) createAnalysis(c *gin.Context) {
	plate := strings.TrimSpace(c.PostForm("plate"))

	ensembleOverride := 0
	if raw := strings.TrimSpace(c.PostForm("ensemble_size")); raw != "" {
		maxSize := h.config.Vision.MaxEnsembleSize
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxSize {
			c.JSON(http.StatusBadRequest, errorResponse(
				fmt.Sprintf("ensemble_size must be an integer between 1 and %d", maxSize)))
			return
		}
		ensembleOverride = parsed
	}

	image, contentType, err := readImageFile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	h.log.Info().
		Str("plate", plate).
		Int("image_bytes", len(image)).
		Int("ensemble_override", ensembleOverride).
		Msg("processing analysis request")

	outcome, err := h.analysisService.Analyze(c.Request.Context(), service.AnalyzeInput{
		ImageContent:     image,
		ContentType:      contentType,
		RawPlate:         plate,
		EnsembleOverride: ensembleOverride,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "ok",
		"record_id":   outcome.Record.ID,
		"fingerprint": outcome.Fingerprint,
		"vehicle":     outcome.Vehicle,
		"estimation":  outcome.Estimation,
		"verdict":     outcome.Verdict,
		"from_cache":  outcome.FromCache,
		"persisted":   outcome.HistoryErr == nil,
	})
}

func (h *Handler) listHistory(c *gin.Context) {
	records, err := h.queryHistory(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(records))
}

// exportHistory streams the full history as an xlsx attachment. Unlike the
// JSON listing it is not paginated: an audit export must carry every record.
func (h *Handler) exportHistory(c *gin.Context) {
	records, err := h.analysisService.HistoryExport(c.Request.Context(), strings.TrimSpace(c.Query("plate")))
	if err != nil {
		h.handleError(c, err)
		return
	}

	workbook, err := export.Workbook(records, time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to render history workbook")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	filename := fmt.Sprintf("tonnage-history-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		workbook,
	)
}

func (h *Handler) queryHistory(c *gin.Context) ([]tonnage.HistoryRecord, error) {
	plateQuery := strings.TrimSpace(c.Query("plate"))

	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return h.analysisService.History(c.Request.Context(), plateQuery, limit, offset)
}

func (h *Handler) listVehicles(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))

	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	vehicles, err := h.analysisService.Vehicles(c.Request.Context(), plateQuery, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) upsertVehicle(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok || !principal.CanManageVehicles() {
		c.JSON(http.StatusForbidden, errorResponse("insufficient role"))
		return
	}

	var req struct {
		PlateNumber      string  `json:"plate_number" binding:"required"`
		LegalMaxKg       float64 `json:"legal_max_kg" binding:"required"`
		ToleranceValue   float64 `json:"tolerance_value"`
		ToleranceUnit    string  `json:"tolerance_unit"`
		TransportCompany string  `json:"transport_company"`
		TruckClass       string  `json:"truck_class"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	saved, err := h.analysisService.UpsertVehicle(c.Request.Context(), tonnage.VehicleLimit{
		PlateNumber:      req.PlateNumber,
		LegalMaxKg:       req.LegalMaxKg,
		ToleranceValue:   req.ToleranceValue,
		ToleranceUnit:    tonnage.ToleranceUnit(req.ToleranceUnit),
		TransportCompany: req.TransportCompany,
		TruckClass:       req.TruckClass,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().
		Str("vehicle_id", saved.VehicleID.String()).
		Str("plate", saved.NormalizedPlate).
		Str("user_id", principal.UserID.String()).
		Msg("vehicle master updated via API")

	c.JSON(http.StatusOK, successResponse(saved))
}

func (h *Handler) invalidateCache(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok || !principal.CanInvalidateCache() {
		c.JSON(http.StatusForbidden, errorResponse("insufficient role"))
		return
	}

	var req struct {
		Fingerprint string `json:"fingerprint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.analysisService.InvalidateFingerprint(req.Fingerprint); err != nil {
		h.handleError(c, err)
		return
	}

	h.log.Info().
		Str("fingerprint", req.Fingerprint).
		Str("user_id", principal.UserID.String()).
		Msg("cache entry invalidated via API")

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"fingerprint": req.Fingerprint,
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, vision.ErrInference):
		h.log.Error().Err(err).Msg("inference backend failure")
		c.JSON(http.StatusBadGateway, errorResponse("inference backend unavailable"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func readImageFile(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, "", errors.New("image file is required")
	}
	if fh.Size > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	file, err := fh.Open()
	if err != nil {
		return nil, "", errors.New("failed to open uploaded image")
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, "", errors.New("failed to read uploaded image")
	}
	if len(image) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	return image, fh.Header.Get("Content-Type"), nil
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
