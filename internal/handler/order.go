package handler

import (
	"net/http"

	"beatstore/internal/dto"
	"beatstore/internal/middleware"
	"beatstore/internal/model"
	"beatstore/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	orderService    service.OrderService
	downloadService service.DownloadService
}

func NewOrderHandler(orderService service.OrderService, downloadService service.DownloadService) *OrderHandler {
	return &OrderHandler{
		orderService:    orderService,
		downloadService: downloadService,
	}
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	items := make([]service.ItemRef, 0, len(req.Items))
	for _, item := range req.Items {
		kind, err := model.ParseItemType(item.Type)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		items = append(items, service.ItemRef{
			Kind:          kind,
			ID:            item.ID,
			LicenseTierID: item.LicenseTierID,
		})
	}

	result, err := h.orderService.Create(ctx, service.CreateOrderInput{
		Items:         items,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		DiscountCode:  req.DiscountCode,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &dto.CreateOrderResponse{
		OrderID:     result.OrderID,
		ApprovalURL: result.ApprovalURL,
	})
}

// GetDownloads lists signed links for a completed order. Ownership is shown
// by ?email= or by a bearer token for the same address.
func (h *OrderHandler) GetDownloads(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.downloadService.Issue(ctx, c.Param("id"), c.QueryParam("email"), middleware.AccountEmail(c))
	if err != nil {
		return err
	}

	downloads := result.Downloads
	if downloads == nil {
		downloads = []service.Download{}
	}
	return c.JSON(http.StatusOK, &dto.DownloadsResponse{
		Order:     result.Order,
		Downloads: downloads,
	})
}
