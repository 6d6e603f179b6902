package domain

// Event is the sellable resource a checkout targets. Read-only here.
type Event struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	Title          string       `json:"title"`
	TicketTypes    []TicketType `json:"ticket_types"`
}

// TicketType carries the inventory counter incremented by fulfillment.
type TicketType struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	Currency      string `json:"currency"`
	TotalQuantity int    `json:"total_quantity"`
	SoldQuantity  int    `json:"sold_quantity"`
}

// TicketType looks up a ticket type by id.
func (e *Event) TicketType(id string) (TicketType, bool) {
	for _, tt := range e.TicketTypes {
		if tt.ID == id {
			return tt, true
		}
	}
	return TicketType{}, false
}
