package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Offer is the upstream offer payload. Only the scalar attributes are carried
// into the document; related entities are resolved separately.
type Offer struct {
	OfferID                     ID        `json:"offerId"`
	SellerID                    ID        `json:"sellerId"`
	SellerNetworkID             string    `json:"sellerNetworkId,omitempty"`
	SellerName                  string    `json:"sellerName,omitempty"`
	VIN                         string    `json:"vin,omitempty"`
	VehicleYear                 string    `json:"vehicleYear,omitempty"`
	VehicleMake                 string    `json:"vehicleMake,omitempty"`
	VehicleModel                string    `json:"vehicleModel,omitempty"`
	VehicleTrim                 string    `json:"vehicleTrim,omitempty"`
	VehicleBodyType             string    `json:"vehicleBodyType,omitempty"`
	VehicleCabType              string    `json:"vehicleCabType,omitempty"`
	VehicleDoorCount            int       `json:"vehicleDoorCount,omitempty"`
	VehicleFuelType             string    `json:"vehicleFuelType,omitempty"`
	VehicleBodyStyle            string    `json:"vehicleBodyStyle,omitempty"`
	VehicleUsage                string    `json:"vehicleUsage,omitempty"`
	VehicleZipCode              string    `json:"vehicleZipCode,omitempty"`
	OwnershipType               string    `json:"ownershipType,omitempty"`
	OwnershipTitleType          string    `json:"ownershipTitleType,omitempty"`
	Mileage                     int       `json:"mileage"`
	IsMileageUnverifiable       bool      `json:"isMileageUnverifiable,omitempty"`
	DrivetrainCondition         string    `json:"drivetrainCondition,omitempty"`
	KeyOrFobAvailable           string    `json:"keyOrFobAvailable,omitempty"`
	EngineTransmissionCondition string    `json:"engineTransmissionCondition,omitempty"`
	AirbagsDeployed             string    `json:"airbagsDeployed,omitempty"`
	Status                      string    `json:"status,omitempty"`
	CreatedAt                   time.Time `json:"createdAt"`
	LastModifiedAt              time.Time `json:"lastModifiedAt"`
}

type Purchase struct {
	ID             ID        `json:"id"`
	BuyerID        ID        `json:"buyerId"`
	OfferID        ID        `json:"offerId"`
	PurchaseDate   time.Time `json:"purchaseDate"`
	Amount         float64   `json:"amount"`
	BuyerInfo      string    `json:"buyerInfo,omitempty"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

type Transport struct {
	ID               ID         `json:"id"`
	CarrierID        ID         `json:"carrierId"`
	PurchaseID       ID         `json:"purchaseId"`
	PickupLocation   string     `json:"pickupLocation,omitempty"`
	DeliveryLocation string     `json:"deliveryLocation,omitempty"`
	ScheduleDate     *time.Time `json:"scheduleDate,omitempty"`
	VehicleDetails   string     `json:"vehicleDetails,omitempty"`
	Status           string     `json:"status,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastModifiedAt   time.Time  `json:"lastModifiedAt"`
}

// Seller is the upstream seller profile. Older producers send "id" rather than
// "sellerId"; both are accepted.
type Seller struct {
	SellerID       ID        `json:"sellerId"`
	LegacyID       ID        `json:"id,omitempty"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

func (s Seller) EntityID() ID {
	if !s.SellerID.IsZero() {
		return s.SellerID
	}
	return s.LegacyID
}

func (s Seller) Snapshot() *SellerSnapshot {
	return &SellerSnapshot{
		SellerID:       s.EntityID(),
		Name:           s.Name,
		Email:          s.Email,
		CreatedAt:      s.CreatedAt,
		LastModifiedAt: s.LastModifiedAt,
	}
}

type Buyer struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	Company        string    `json:"company,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

func (b Buyer) Snapshot() *BuyerSnapshot {
	return &BuyerSnapshot{
		BuyerID:        b.ID,
		Name:           b.Name,
		Email:          b.Email,
		Phone:          b.Phone,
		Company:        b.Company,
		CreatedAt:      b.CreatedAt,
		LastModifiedAt: b.LastModifiedAt,
	}
}

type Carrier struct {
	ID             ID        `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastModifiedAt time.Time `json:"lastModifiedAt"`
}

func (c Carrier) Snapshot() *CarrierSnapshot {
	return &CarrierSnapshot{
		ID:             c.ID,
		Name:           c.Name,
		Email:          c.Email,
		Phone:          c.Phone,
		CreatedAt:      c.CreatedAt,
		LastModifiedAt: c.LastModifiedAt,
	}
}

// Decode unmarshals an entity payload and rejects empty input.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, fmt.Errorf("decode %T: empty payload", out)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// EntityID pulls the identifier out of an arbitrary entity payload, trying the
// kind-specific field first and falling back to the generic ones.
func EntityID(kind EntityKind, raw json.RawMessage) (ID, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("decode %s payload: %w", kind, err)
	}
	candidates := []string{"id", "Id"}
	switch kind {
	case KindOffer:
		candidates = append([]string{"offerId", "OfferId"}, candidates...)
	case KindSeller:
		candidates = append([]string{"sellerId", "SellerId"}, candidates...)
	case KindBuyer:
		candidates = append(candidates, "buyerId")
	case KindCarrier:
		candidates = append(candidates, "carrierId")
	}
	for _, name := range candidates {
		value, ok := fields[name]
		if !ok {
			continue
		}
		var id ID
		if err := json.Unmarshal(value, &id); err != nil {
			return "", fmt.Errorf("decode %s id: %w", kind, err)
		}
		if !id.IsZero() {
			return id, nil
		}
	}
	return "", fmt.Errorf("%s payload has no id", kind)
}
