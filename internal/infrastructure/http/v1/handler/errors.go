package handler

import "errors"

var (
	ErrFailedToDecodeRequestBody = errors.New("failed to decode request body")
	ErrInvalidRequest            = errors.New("request failed validation")
)

const internalServerErrorText = "the server encountered an error and could not process your request"
