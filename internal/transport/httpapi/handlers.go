package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
	"github.com/vladislavdragonenkov/shop/internal/service/fulfillment"
)

// OrderService: операции с заказами, которые нужны API.
type OrderService interface {
	PlaceOrder(ctx context.Context, req fulfillment.PlaceOrderRequest) (domain.Order, error)
	ListOrders(ctx context.Context, page int) ([]domain.Order, error)
}

// ProductService: операции с товарами, которые нужны API.
type ProductService interface {
	CreateProduct(ctx context.Context, req catalog.CreateProductRequest) (domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
}

type handler struct {
	orders   OrderService
	products ProductService
}

func (h *handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, ReasonInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), fulfillment.PlaceOrderRequest{
		ProductID: strings.TrimSpace(req.ProductID),
		Count:     req.Count,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, toOrderResponse(order))
}

func (h *handler) listOrders(c *gin.Context) {
	page := 1
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondFail(c, http.StatusBadRequest, ReasonInvalidPage, "page must be an integer")
			return
		}
		page = parsed
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, toOrderResponses(orders))
}

func (h *handler) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFail(c, http.StatusBadRequest, ReasonInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	product, err := h.products.CreateProduct(c.Request.Context(), catalog.CreateProductRequest{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, toProductResponse(product))
}

func (h *handler) getProduct(c *gin.Context) {
	product, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, toProductResponse(product))
}
