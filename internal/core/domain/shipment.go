package domain

import "time"

type ShipmentStatus string

const (
	ShipmentStatusShipped   ShipmentStatus = "SHIPPED"
	ShipmentStatusInTransit ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
)

func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentStatusShipped, ShipmentStatusInTransit, ShipmentStatusDelivered:
		return true
	}
	return false
}

// Shipment is the 1:1 satellite of an accepted order. Location and sensor
// readings are last-write-wins telemetry.
type Shipment struct {
	ID                string
	OrderID           string
	TrackingNumber    string
	Carrier           string
	TransportMode     string
	Location          string
	Status            ShipmentStatus
	Temperature       *float64
	Humidity          *float64
	LastSensorUpdate  *time.Time
	EstimatedDelivery time.Time
	ActualDelivery    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
