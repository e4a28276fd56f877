package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"beatstore/internal/handler"
	appmiddleware "beatstore/internal/middleware"
	"beatstore/internal/service"
	"beatstore/internal/storage"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	JWTSecret string
	Now       func() time.Time
}

type Server struct {
	echo          *echo.Echo
	log           *slog.Logger
	auth          echo.MiddlewareFunc
	orderHandler  *handler.OrderHandler
	paypalHandler *handler.PaypalHandler
	fileHandler   *handler.FileHandler
}

func NewServer(
	orderService service.OrderService,
	downloadService service.DownloadService,
	webhookService service.WebhookService,
	files *storage.FSStore,
	opts Options,
	log *slog.Logger,
) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = errorHandler(log)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:          e,
		log:           log,
		auth:          appmiddleware.AuthMiddleware(opts.JWTSecret, opts.Now),
		orderHandler:  handler.NewOrderHandler(orderService, downloadService),
		paypalHandler: handler.NewPaypalHandler(orderService, webhookService),
		fileHandler:   handler.NewFileHandler(files),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- orders --------
	api.POST("/orders", s.orderHandler.CreateOrder)
	api.GET("/orders/:id/downloads", s.orderHandler.GetDownloads, s.auth)

	// -------- signed downloads --------
	api.GET("/files/:bucket/*", s.fileHandler.ServeFile)

	// -------- paypal webhooks / callbacks --------
	paypal := api.Group("/paypal")
	paypal.GET("/success", s.paypalHandler.HandleSuccess)
	paypal.GET("/cancel", s.paypalHandler.HandleCancel)
	paypal.POST("/webhook", s.paypalHandler.PayPalWebhook)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(address string) error {
	s.log.Info("starting http server", "addr", address)
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
