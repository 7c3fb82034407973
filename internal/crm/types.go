// Package crm is the boundary to the external commerce/CRM system the kiosk
// mirrors. It defines the collaborator contract consumed by the services
// layer, the typed error variant every implementation returns, and an HTTP
// implementation over the CRM's JSON REST API.
package crm

import "context"

// Client is the set of CRM calls the kiosk core depends on.
type Client interface {
	// GetCustomer returns the customer with its current segment memberships.
	// A missing customer yields an *Error of KindNotFound.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// SearchCustomersBySegment returns the ids of every customer in segmentID.
	SearchCustomersBySegment(ctx context.Context, segmentID string) ([]string, error)

	// VerifyCheckinOrder checks that orderID exists and contains the check-in
	// catalog item (and variation, when set).
	VerifyCheckinOrder(ctx context.Context, orderID, itemID, variationID string) (*OrderVerification, error)

	// GetOrder fetches an order by id.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// RecordVisit pushes a completed check-in to the CRM.
	RecordVisit(ctx context.Context, v Visit) error
}

// Address is the postal part of a customer's contact snapshot.
type Address struct {
	AddressLine1 string `json:"address_line_1,omitempty"`
	Locality     string `json:"locality,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
}

// Customer is a CRM customer record.
type Customer struct {
	ID          string   `json:"id"`
	GivenName   string   `json:"given_name,omitempty"`
	FamilyName  string   `json:"family_name,omitempty"`
	Email       string   `json:"email_address,omitempty"`
	Phone       string   `json:"phone_number,omitempty"`
	ReferenceID string   `json:"reference_id,omitempty"`
	SegmentIDs  []string `json:"segment_ids,omitempty"`
	Address     *Address `json:"address,omitempty"`
}

// LineItem is one purchased catalog entry of an order.
type LineItem struct {
	Name            string `json:"name,omitempty"`
	CatalogItemID   string `json:"catalog_item_id,omitempty"`
	CatalogObjectID string `json:"catalog_object_id,omitempty"` // variation id
	Quantity        string `json:"quantity,omitempty"`
}

// Order is a CRM order (the thing a pass QR code encodes).
type Order struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id,omitempty"`
	State      string     `json:"state,omitempty"`
	LineItems  []LineItem `json:"line_items,omitempty"`
}

// OrderVerification is the outcome of VerifyCheckinOrder. Reason is set
// when Valid is false.
type OrderVerification struct {
	Valid  bool
	Order  *Order
	Reason string
}

// Visit is a check-in reported back to the CRM.
type Visit struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id,omitempty"`
	GuestCount int    `json:"guest_count"`
	// ReferenceKey lets the CRM dedupe replays of the same queue row.
	ReferenceKey string `json:"reference_key,omitempty"`
}
