package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product — запись товара, которую возвращает каталог.
// Поля кроме id/name/price сохраняются в Attributes и отдаются обратно без изменений.
type Product struct {
	ID         int
	Name       string
	Price      decimal.Decimal
	Attributes map[string]json.RawMessage
}

type productFields struct {
	ID    int             `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// UnmarshalJSON разбирает запись каталога, сохраняя неизвестные поля.
func (p *Product) UnmarshalJSON(data []byte) error {
	var known productFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "id")
	delete(raw, "name")
	delete(raw, "price")

	p.ID = known.ID
	p.Name = known.Name
	p.Price = known.Price
	p.Attributes = nil
	if len(raw) > 0 {
		p.Attributes = raw
	}
	return nil
}

// MarshalJSON отдаёт запись целиком, включая дополнительные поля каталога.
func (p Product) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Attributes)+3)
	for k, v := range p.Attributes {
		out[k] = v
	}
	out["id"] = p.ID
	out["name"] = p.Name
	out["price"] = p.Price
	return json.Marshal(out)
}

// ProductIndex строит индекс товаров по id.
func ProductIndex(products []Product) map[int]Product {
	index := make(map[int]Product, len(products))
	for _, p := range products {
		index[p.ID] = p
	}
	return index
}
