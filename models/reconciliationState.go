package models

type ReconciliationState struct {
	Code        ReconciliationStateCode `gorm:"primary_key;size:2" json:"code"`
	Description string                  `gorm:"size:50;not null" json:"description"`
}
