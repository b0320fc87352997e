package recipe

import "errors"

var (
	ErrRecipe = errors.New("recipe resolution failed")
)
