// internal/service/inventory/domain/pricing.go
package domain

// CartEntry 是会员购物车中的一行，(MemberID, OptionID) 唯一
type CartEntry struct {
	MemberID string `json:"member_id"`
	OptionID string `json:"option_value_id"`
	Quantity int64  `json:"quantity"`
}

// ProductImage 商品图片
type ProductImage struct {
	URL       string `json:"url"`
	IsDefault bool   `json:"is_default"`
}

// OptionValue 是商品规格值的快照
type OptionValue struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExtraPrice *int64 `json:"extra_price,omitempty"` // nil 视为 0
}

// ProductSnapshot 是从商品目录查询得到的完整快照，不做懒加载
type ProductSnapshot struct {
	ID             string         `json:"id"`
	StoreID        string         `json:"store_id"`
	Name           string         `json:"name"`
	BasePrice      int64          `json:"base_price"`
	DiscountAmount int64          `json:"discount_amount"` // 商品级绝对优惠金额
	Images         []ProductImage `json:"images"`
	Option         OptionValue    `json:"option"`
}

// StoreSnapshot 店铺快照
type StoreSnapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PriceQuote 是一行购物车的派生价格，不落库
type PriceQuote struct {
	BasePrice      int64 `json:"base_price"`
	ExtraPrice     int64 `json:"extra_price"`
	DiscountAmount int64 `json:"discount_amount"`
	UnitPrice      int64 `json:"unit_price"`
	Quantity       int64 `json:"quantity"`
	LineTotal      int64 `json:"line_total"`
}

// Quote 计算一行的价格。优惠金额先截断到 [0, base+extra]。
func Quote(entry CartEntry, basePrice int64, option OptionValue, discount int64) PriceQuote {
	var extra int64
	if option.ExtraPrice != nil {
		extra = *option.ExtraPrice
	}
	gross := basePrice + extra
	if gross < 0 {
		gross = 0
	}
	switch {
	case discount < 0:
		discount = 0
	case discount > gross:
		discount = gross
	}
	unit := gross - discount
	return PriceQuote{
		BasePrice:      basePrice,
		ExtraPrice:     extra,
		DiscountAmount: discount,
		UnitPrice:      unit,
		Quantity:       entry.Quantity,
		LineTotal:      unit * entry.Quantity,
	}
}

// ResolveImage 优先默认图，否则第一张，否则没有
func ResolveImage(images []ProductImage) (ProductImage, bool) {
	for _, img := range images {
		if img.IsDefault {
			return img, true
		}
	}
	if len(images) > 0 {
		return images[0], true
	}
	return ProductImage{}, false
}
