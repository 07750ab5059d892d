package model

// Category groups products. Products reference it by ID only; deleting a
// category leaves their CategoryID in place.
type Category struct {
	BaseModel
	Name string `gorm:"type:varchar(100);not null" json:"name" validate:"required,notblank,max=100"`
}

// Supplier is captured on purchase transactions.
type Supplier struct {
	BaseModel
	Name        string `gorm:"type:varchar(255);not null" json:"name" validate:"required,notblank"`
	ContactInfo string `gorm:"type:varchar(255)" json:"contactInfo"`
	Address     string `gorm:"type:text" json:"address"`
}
