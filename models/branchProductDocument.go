package models

import (
	"strings"
	"time"
)

// RelationKey is the composite identity of a BranchProductDocument.
// It is comparable and used directly as a map and loader key.
type RelationKey struct {
	BranchCode   string `json:"branch_code" yaml:"branch_code" validate:"required,max=5"`
	ProductCode  string `json:"product_code" yaml:"product_code" validate:"required,max=5"`
	DocumentCode string `json:"document_code" yaml:"document_code" validate:"required,max=10"`
}

func NewRelationKey(branchCode, productCode, documentCode string) RelationKey {
	return RelationKey{
		BranchCode:   strings.TrimSpace(branchCode),
		ProductCode:  strings.TrimSpace(productCode),
		DocumentCode: strings.TrimSpace(documentCode),
	}
}

func (k RelationKey) String() string {
	return k.BranchCode + "/" + k.ProductCode + "/" + k.DocumentCode
}

// Validate checks that every part of the key is present.
func (k RelationKey) Validate() error {
	if k.BranchCode == "" {
		return NewValidationError("branch_code", k.BranchCode, "branch code is required")
	}
	if k.ProductCode == "" {
		return NewValidationError("product_code", k.ProductCode, "product code is required")
	}
	if k.DocumentCode == "" {
		return NewValidationError("document_code", k.DocumentCode, "document code is required")
	}
	return nil
}

// BranchProductDocument ties one branch, product and document together.
// Only forward references are modelled; reverse lookups go through the store.
type BranchProductDocument struct {
	BranchCode   string    `gorm:"primary_key;size:5" json:"branch_code"`
	ProductCode  string    `gorm:"primary_key;size:5" json:"product_code"`
	DocumentCode string    `gorm:"primary_key;size:10" json:"document_code"`
	Branch       *Branch   `gorm:"foreignKey:BranchCode;references:Code" json:"branch,omitempty"`
	Product      *Product  `gorm:"foreignKey:ProductCode;references:Code" json:"product,omitempty"`
	Document     *Document `gorm:"foreignKey:DocumentCode;references:Code" json:"document,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (r *BranchProductDocument) Key() RelationKey {
	return RelationKey{BranchCode: r.BranchCode, ProductCode: r.ProductCode, DocumentCode: r.DocumentCode}
}

// RelationFilter narrows relation listings; empty fields impose no constraint.
type RelationFilter struct {
	BranchCode   string
	ProductCode  string
	DocumentCode string
}

func (f RelationFilter) Matches(r *BranchProductDocument) bool {
	if f.BranchCode != "" && r.BranchCode != f.BranchCode {
		return false
	}
	if f.ProductCode != "" && r.ProductCode != f.ProductCode {
		return false
	}
	if f.DocumentCode != "" && r.DocumentCode != f.DocumentCode {
		return false
	}
	return true
}
