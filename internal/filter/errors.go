package filter

import "errors"

var (
	ErrUnknownKind       = errors.New("unknown filter kind")
	ErrInvalidParam      = errors.New("invalid filter parameter")
	ErrSubstitutionLimit = errors.New("variable substitution limit exceeded")
	ErrStageNotFound     = errors.New("filter stage not in pipeline")
)
