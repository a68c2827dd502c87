package models

import "time"

type Room struct {
	ID        int64     `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Capacity  int64     `yaml:"capacity" json:"capacity"`
	Location  string    `yaml:"location" json:"location"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}
