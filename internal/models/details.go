package models

import (
	"encoding/json"
	"fmt"
)

// Details kinds, one per service type
const (
	DetailsKindEvent      = "event"
	DetailsKindCatering   = "catering"
	DetailsKindRestaurant = "restaurant"
	DetailsKindProperty   = "property"
)

// BookingDetails is the tagged variant carried on bookings, cart items
// and order items. The pricing engine branches on Kind and relies on
// the per-type fields being populated.
type BookingDetails struct {
	Kind       string             `json:"kind"`
	Event      *EventDetails      `json:"event,omitempty"`
	Catering   *CateringDetails   `json:"catering,omitempty"`
	Restaurant *RestaurantDetails `json:"restaurant,omitempty"`
	Property   *PropertyDetails   `json:"property,omitempty"`
}

// EventDetails for event-type services (headcount priced)
type EventDetails struct {
	Attendees int `json:"attendees"`
}

// CateringDetails for catering orders
type CateringDetails struct {
	People       int    `json:"people"`
	MenuID       int64  `json:"menu_id,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// RestaurantDetails for table reservations
type RestaurantDetails struct {
	TableID int64 `json:"table_id"`
	Guests  int   `json:"guests"`
}

// PropertyDetails for short-stay properties (per-night priced)
type PropertyDetails struct {
	Guests int `json:"guests"`
	Nights int `json:"nights"`
}

// Validate checks that the variant matching Kind is present and sane.
func (d *BookingDetails) Validate() error {
	switch d.Kind {
	case DetailsKindEvent:
		if d.Event == nil || d.Event.Attendees < 1 {
			return fmt.Errorf("%w: event details require at least one attendee", ErrValidation)
		}
	case DetailsKindCatering:
		if d.Catering == nil || d.Catering.People < 1 {
			return fmt.Errorf("%w: catering details require a headcount", ErrValidation)
		}
	case DetailsKindRestaurant:
		if d.Restaurant == nil || d.Restaurant.TableID == 0 || d.Restaurant.Guests < 1 {
			return fmt.Errorf("%w: restaurant details require a table and guest count", ErrValidation)
		}
	case DetailsKindProperty:
		if d.Property == nil || d.Property.Nights < 1 {
			return fmt.Errorf("%w: property details require at least one night", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown booking details kind %q", ErrValidation, d.Kind)
	}
	return nil
}

// Headcount returns how many individuals one unit of this booking
// occupies. Headcount-capped services charge this against their
// max_individuals pool instead of counting reservations.
func (d *BookingDetails) Headcount() int {
	switch d.Kind {
	case DetailsKindEvent:
		if d.Event != nil {
			return d.Event.Attendees
		}
	case DetailsKindCatering:
		if d.Catering != nil {
			return d.Catering.People
		}
	case DetailsKindRestaurant:
		if d.Restaurant != nil {
			return d.Restaurant.Guests
		}
	case DetailsKindProperty:
		if d.Property != nil {
			return d.Property.Guests
		}
	}
	return 0
}

// ParseDetails decodes and validates a raw details payload.
func ParseDetails(raw json.RawMessage) (*BookingDetails, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: booking details required", ErrValidation)
	}
	var d BookingDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: malformed booking details: %v", ErrValidation, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Encode marshals details back to the stored representation.
func (d *BookingDetails) Encode() (json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal booking details: %w", err)
	}
	return b, nil
}
