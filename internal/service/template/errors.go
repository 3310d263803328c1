package template

import "errors"

// Sentinel errors for the template renderer.
var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
)
