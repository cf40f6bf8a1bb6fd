package models

import "gorm.io/datatypes"

// ScopeDefinition maps a scope name to the API resources (audiences) it grants.
type ScopeDefinition struct {
	Name        string                      `gorm:"primaryKey;size:128" json:"name"`
	DisplayName string                      `json:"display_name"`
	Description string                      `json:"description"`
	Resources   datatypes.JSONSlice[string] `json:"resources"`
}
