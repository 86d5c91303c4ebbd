package models

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderRequest is a limit order submitted through the dashboard.
// Orders are always placed as LMT / GTC.
type OrderRequest struct {
	Conid    int64     `json:"conid" form:"contract_id" binding:"required"`
	Price    float64   `json:"price" form:"price" binding:"required,gt=0"`
	Quantity int       `json:"quantity" form:"quantity" binding:"required,gt=0"`
	Side     OrderSide `json:"side" form:"side" binding:"required,oneof=BUY SELL"`
}

// ScannerRequest runs a market scanner on the gateway.
type ScannerRequest struct {
	Instrument  string `json:"instrument" form:"instrument"`
	Location    string `json:"location" form:"location"`
	Type        string `json:"type" form:"sort"`
	FilterCode  string `json:"filter_code" form:"filter"`
	FilterValue string `json:"filter_value" form:"filter_value"`
}
