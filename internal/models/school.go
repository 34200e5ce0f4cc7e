package models

import "time"

// School represents a school that receives devices
type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	District  string    `json:"district"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSchoolRequest represents the request body for registering a school
type CreateSchoolRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Code     string `json:"code" validate:"required,alphanum,max=8"`
	District string `json:"district" validate:"required,max=100"`
}
