package models

// Property is a real-estate listing, loaded from the realtor dataset.
type Property struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	Price     float64 `gorm:"index"`
	Bed       int
	Bath      int
	AcreLot   float64
	Street    string `gorm:"size:256"`
	City      string `gorm:"size:128;index:idx_property_location"`
	State     string `gorm:"size:64;index:idx_property_location"`
	ZipCode   string `gorm:"size:16"`
	HouseSize float64
	Status    string `gorm:"size:32"` // for_sale, ready_to_build, sold
}
