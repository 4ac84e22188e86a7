package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/common"
	"github.com/jo-hoe/potd/internal/core"
	"github.com/jo-hoe/potd/internal/scraper"
)

const (
	APIPrefix    = "/api/potd"
	mimePNG      = "image/png"
	maxDimension = 8192
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

// PictureDTO is the JSON form of a stored picture.
type PictureDTO struct {
	Date             string `json:"date"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription"`
	Credit           string `json:"credit"`
	SourceURL        string `json:"sourceUrl"`
	ImageURL         string `json:"imageUrl"`
	DitheredImageURL string `json:"ditheredImageUrl"`
}

type ScrapeResultDTO struct {
	Outcome string `json:"outcome"`
	Date    string `json:"date,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type imageRequest struct {
	Date   string `param:"date" validate:"required"`
	Width  string `param:"width" validate:"omitempty,numeric"`
	Height string `param:"height" validate:"omitempty,numeric"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func NewPictureDTO(picture *database.Picture) PictureDTO {
	date := database.FormatDate(picture.Date)
	return PictureDTO{
		Date:             date,
		Description:      picture.Description,
		ShortDescription: picture.ShortDescription,
		Credit:           picture.Credit,
		SourceURL:        picture.ImageURL,
		ImageURL:         fmt.Sprintf("%s/%s/image", APIPrefix, date),
		DitheredImageURL: fmt.Sprintf("%s/%s/image/dithered", APIPrefix, date),
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	if e.Validator == nil {
		e.Validator = &common.GenericEchoValidator{}
	}

	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(s.coreService.Metrics().Handler()))

	api := e.Group(APIPrefix)
	api.GET("/today", s.todayHandler)
	api.GET("/today/trmnl", s.trmnlHandler)
	api.POST("/scrape", s.scrapeHandler)
	api.GET("/:date", s.dateHandler)

	original := s.imageHandler(core.VariantOriginal)
	dithered := s.imageHandler(core.VariantDithered)
	api.GET("/:date/image", original)
	api.GET("/:date/:width/image", original)
	api.GET("/:date/:width/:height/image", original)
	api.GET("/:date/image/dithered", dithered)
	api.GET("/:date/:width/image/dithered", dithered)
	api.GET("/:date/:width/:height/image/dithered", dithered)
}

func (s *APIService) todayHandler(ctx echo.Context) error {
	s.coreService.Metrics().IncRequest("today")
	picture, err := s.coreService.TodayOrLatest(ctx.Request().Context())
	if errors.Is(err, core.ErrNotFound) {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err != nil {
		slog.Error("todayHandler: failed to load picture", "status", http.StatusInternalServerError, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load picture")
	}
	return ctx.JSON(http.StatusOK, NewPictureDTO(picture))
}

func (s *APIService) dateHandler(ctx echo.Context) error {
	s.coreService.Metrics().IncRequest("date")
	date, err := parseDateParam(ctx.Param("date"))
	if err != nil {
		return err
	}
	picture, err := s.coreService.PictureByDate(ctx.Request().Context(), date)
	if errors.Is(err, core.ErrNotFound) {
		slog.Warn("dateHandler: picture not found", "status", http.StatusNotFound, "date", ctx.Param("date"))
		return echo.NewHTTPError(http.StatusNotFound, "no picture for this date")
	}
	if err != nil {
		slog.Error("dateHandler: failed to load picture", "status", http.StatusInternalServerError, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load picture")
	}
	return ctx.JSON(http.StatusOK, NewPictureDTO(picture))
}

func (s *APIService) imageHandler(variant core.Variant) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		s.coreService.Metrics().IncRequest(string(variant))

		var req imageRequest
		if err := ctx.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid image request")
		}
		if err := ctx.Validate(&req); err != nil {
			return err
		}
		date, err := parseDateParam(req.Date)
		if err != nil {
			return err
		}
		width, err := parseDimension("width", req.Width)
		if err != nil {
			return err
		}
		height, err := parseDimension("height", req.Height)
		if err != nil {
			return err
		}

		data, err := s.coreService.Render(ctx.Request().Context(), date, variant, width, height)
		return s.writeImage(ctx, data, err)
	}
}

func (s *APIService) trmnlHandler(ctx echo.Context) error {
	s.coreService.Metrics().IncRequest("trmnl")
	picture, err := s.coreService.TodayOrLatest(ctx.Request().Context())
	if err != nil {
		return s.writeImage(ctx, nil, err)
	}
	data, err := s.coreService.Render(ctx.Request().Context(), picture.Date, core.VariantDisplay, nil, nil)
	if err == nil {
		slog.Info("trmnlHandler: serving display image", "date", database.FormatDate(picture.Date))
	}
	return s.writeImage(ctx, data, err)
}

func (s *APIService) writeImage(ctx echo.Context, data []byte, err error) error {
	if errors.Is(err, core.ErrNotFound) {
		slog.Warn("image not available", "status", http.StatusNotFound, "path", ctx.Request().URL.Path, "error", err)
		return echo.NewHTTPError(http.StatusNotFound, "image not available")
	}
	if err != nil {
		slog.Error("failed to render image", "status", http.StatusInternalServerError, "path", ctx.Request().URL.Path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render image")
	}
	ctx.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return ctx.Blob(http.StatusOK, mimePNG, data)
}

func (s *APIService) scrapeHandler(ctx echo.Context) error {
	s.coreService.Metrics().IncTriggered()
	result, err := s.coreService.Scrape(ctx.Request().Context())
	if err != nil {
		slog.Error("scrapeHandler: scrape failed", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, ScrapeResultDTO{Outcome: "failed", Reason: err.Error()})
	}
	return ctx.JSON(http.StatusOK, NewScrapeResultDTO(result))
}

func NewScrapeResultDTO(result *scraper.Result) ScrapeResultDTO {
	return ScrapeResultDTO{
		Outcome: string(result.Outcome),
		Date:    database.FormatDate(result.Date),
		Reason:  result.Reason,
	}
}

func parseDateParam(value string) (time.Time, error) {
	date, err := database.ParseDate(value)
	if err != nil {
		slog.Warn("invalid date format received", "date", value)
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "Invalid date format. Use YYYY-MM-DD")
	}
	return date, nil
}

func parseDimension(name, value string) (*int, error) {
	if value == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil || v < 1 || v > maxDimension {
		return nil, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("%s must be an integer between 1 and %d", name, maxDimension))
	}
	return &v, nil
}
