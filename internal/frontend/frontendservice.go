package frontend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/core"
)

const MainPageName = "index.html"

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type pictureView struct {
	Date             string
	Description      string
	ShortDescription string
	Credit           string
	SourceURL        string
	ImageURL         string
	DitheredImageURL string
}

type indexView struct {
	Today      string
	IsToday    bool
	Picture    *pictureView
	DisplayURL string
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

// rootRedirectHandler redirects root path to index.html
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	return ctx.Redirect(http.StatusMovedPermanently, "/"+MainPageName)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = newTemplate()

	e.GET("/", service.rootRedirectHandler)
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET("/icon.svg", service.iconHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	today := database.FormatDate(service.coreService.Today())
	view := indexView{
		Today:      today,
		DisplayURL: "/api/potd/today/trmnl",
	}

	picture, err := service.coreService.TodayOrLatest(ctx.Request().Context())
	switch {
	case errors.Is(err, core.ErrNotFound):
	case err != nil:
		slog.Error("indexHandler: failed to load picture", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load picture")
	default:
		view.Picture = newPictureView(picture)
		view.IsToday = view.Picture.Date == today
	}

	service.setNoCache(ctx)
	return ctx.Render(http.StatusOK, MainPageName, view)
}

func newPictureView(picture *database.Picture) *pictureView {
	date := database.FormatDate(picture.Date)
	return &pictureView{
		Date:             date,
		Description:      picture.Description,
		ShortDescription: picture.ShortDescription,
		Credit:           picture.Credit,
		SourceURL:        picture.ImageURL,
		ImageURL:         fmt.Sprintf("/api/potd/%s/image", date),
		DitheredImageURL: fmt.Sprintf("/api/potd/%s/image/dithered", date),
	}
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

func (service *FrontendService) iconHandler(ctx echo.Context) error {
	data, err := assetsFS.ReadFile("views/icon.svg")
	if err != nil {
		slog.Error("iconHandler: failed to read icon.svg", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to load icon")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/svg+xml", data)
}
