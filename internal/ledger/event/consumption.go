package event

import (
	"time"

	"github.com/shopspring/decimal"

	"milledger/internal/core/id"
	"milledger/internal/core/types"
)

// ProductType is the rice product produced from an outturn's paddy.
type ProductType string

const (
	ProductRice     ProductType = "rice"
	ProductBrokens  ProductType = "brokens"
	ProductBran     ProductType = "bran"
	ProductFarmBran ProductType = "farm-bran"
	ProductFaram    ProductType = "faram"
)

// PaddyBagsPerQuintal converts produced quintals back to paddy bags
// consumed from the outturn.
const PaddyBagsPerQuintal = 3

// exemptProducts are by-products that do not consume paddy stock.
var exemptProducts = map[ProductType]bool{
	ProductBran:     true,
	ProductFarmBran: true,
	ProductFaram:    true,
}

// IsExemptProduct reports whether a product type is a by-product exempt
// from paddy consumption.
func IsExemptProduct(p ProductType) bool {
	return exemptProducts[p]
}

// ProductionConsumption is a derived event: paddy bags deducted from an
// outturn when rice is produced. It reduces outturn stock without a
// corresponding movement destination.
type ProductionConsumption struct {
	ID               id.ID           `db:"id" json:"id"`
	OutturnID        id.ID           `db:"outturn_id" json:"outturnId"`
	Variety          string          `db:"variety" json:"variety"`
	ProductType      ProductType     `db:"product_type" json:"productType"`
	QuantityQuintals decimal.Decimal `db:"quantity_quintals" json:"quantityQuintals"`
	Date             time.Time       `db:"date" json:"date"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	DeletedAt        *time.Time      `db:"deleted_at" json:"deletedAt,omitempty"`
}

// PaddyBags returns the paddy bags this production deducts from its
// outturn: quintals x 3, rounded. Exempt by-products deduct nothing.
func (c *ProductionConsumption) PaddyBags() types.Bags {
	if IsExemptProduct(c.ProductType) {
		return 0
	}
	bags := c.QuantityQuintals.Mul(decimal.NewFromInt(PaddyBagsPerQuintal)).Round(0)
	return types.Bags(bags.IntPart())
}

// Delta returns the consumption's leg in the unified fold stream.
func (c *ProductionConsumption) Delta() StockDelta {
	return StockDelta{
		Variety:  c.Variety,
		Location: OutturnLocation(c.OutturnID),
		Bags:     c.PaddyBags().Neg(),
	}
}
