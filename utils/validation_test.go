package utils

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name     string `json:"name" validate:"required,max=5"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(&sampleRequest{Name: "ok", Currency: "USD"}))

	err := ValidateStruct(&sampleRequest{Currency: "US"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPayload))
	assert.Contains(t, err.Error(), "name: is required")
	assert.Contains(t, err.Error(), "currency: must have length 3")
}

func TestReadBody_TooLarge(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(make([]byte, 64)))
	req.ContentLength = -1

	_, err := ReadBody(req, 32)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	req = httptest.NewRequest("POST", "/webhook", bytes.NewReader([]byte(`{"a":1}`)))
	body, err := ReadBody(req, 32)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
}
