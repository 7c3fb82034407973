package crm

// ReasonMissingCheckinItem is the verification reason for orders that do not
// contain the configured check-in catalog entry.
const ReasonMissingCheckinItem = "Order does not contain required check-in item"

// MatchCheckinItem reports whether order has a line item for itemID. When
// variationID is non-empty the line item must also be that variation.
func MatchCheckinItem(order *Order, itemID, variationID string) bool {
	if order == nil || itemID == "" {
		return false
	}
	for _, li := range order.LineItems {
		if li.CatalogItemID != itemID {
			continue
		}
		if variationID == "" || li.CatalogObjectID == variationID {
			return true
		}
	}
	return false
}
