package models

import (
	"strings"
	"time"
)

type Product struct {
	Code      string    `gorm:"primary_key;size:5" json:"code"`
	Name      string    `gorm:"size:50;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewProduct struct {
	Code string `json:"code" yaml:"code" validate:"required,alphanum,max=5"`
	Name string `json:"name" yaml:"name" validate:"required,max=50"`
}

func (input *NewProduct) normalize() {
	input.Code = strings.TrimSpace(input.Code)
	input.Name = strings.TrimSpace(input.Name)
}
