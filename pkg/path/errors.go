package path

import "errors"

var (
	errNoCandidates  = errors.New("path: no candidate guards available")
	errInvalidRange  = errors.New("path: invalid random range")
	errNoUsableGuard = errors.New("path: no usable guard found in current state")
)
