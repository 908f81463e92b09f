package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/pricing"
)

type placeOrderRequest struct {
	ProductID string `json:"productId"`
	Count     int64  `json:"count"`
}

type createProductRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock"`
}

// OrderResponse: заказ в ответах API. Деньги отдаются строкой с двумя знаками.
type OrderResponse struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"productId"`
	ProductName  string    `json:"productName"`
	ProductPrice string    `json:"productPrice"`
	Count        int64     `json:"count"`
	TotalPrice   string    `json:"totalPrice"`
	Created      time.Time `json:"created"`
}

// ProductResponse: товар в ответах API.
type ProductResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Stock     int64     `json:"stock"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		ID:           o.ID,
		ProductID:    o.ProductID,
		ProductName:  o.ProductName,
		ProductPrice: pricing.Format(o.ProductPrice),
		Count:        o.Count,
		TotalPrice:   pricing.Format(o.TotalPrice),
		Created:      o.Created,
	}
}

func toOrderResponses(orders []domain.Order) []OrderResponse {
	result := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		result = append(result, toOrderResponse(o))
	}
	return result
}

func toProductResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:        p.ID,
		Name:      p.Name,
		Price:     pricing.Format(p.Price),
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
