package validator

import (
	"errors"
	"testing"

	validators "github.com/go-playground/validator/v10"
)

type sample struct {
	UserID string `json:"user_id" validate:"required"`
	Name   string `params:"name" validate:"required"`
}

// TestValidateStruct_FieldNames tests that errors name fields by their wire tag
func TestValidateStruct_FieldNames(t *testing.T) {
	err := New().ValidateStruct(sample{})

	var fieldErrs validators.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("error = %v, want ValidationErrors", err)
	}
	got := map[string]bool{}
	for _, fe := range fieldErrs {
		got[fe.Field()] = true
	}
	if !got["user_id"] || !got["name"] {
		t.Errorf("fields = %v, want user_id and name", got)
	}
}

// TestValidateStruct_Valid tests a valid struct
func TestValidateStruct_Valid(t *testing.T) {
	if err := New().ValidateStruct(sample{UserID: "U1", Name: "x"}); err != nil {
		t.Errorf("ValidateStruct() error = %v", err)
	}
}
