package domain

import "github.com/shopspring/decimal"

func init() {
	// Цены уходят в JSON числами, как их отдаёт каталог.
	decimal.MarshalJSONWithoutQuotes = true
}
