package models

import (
	"strings"
	"time"
)

// Document is a source-system document type (e.g. an origin ledger) feeding reconciliation.
type Document struct {
	Code        string    `gorm:"primary_key;size:10" json:"code"`
	Description string    `gorm:"size:100" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewDocument struct {
	Code        string `json:"code" yaml:"code" validate:"required,alphanum,max=10"`
	Description string `json:"description" yaml:"description" validate:"max=100"`
}

func (input *NewDocument) normalize() {
	input.Code = strings.TrimSpace(input.Code)
	input.Description = strings.TrimSpace(input.Description)
}
