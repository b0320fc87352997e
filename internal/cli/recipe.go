package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emberhq/kilnd/internal/paths"
	"github.com/emberhq/kilnd/internal/recipe"
)

// Represents the 'kilnd recipe' command.
//
// Runs the same archetype detection the daemon applies to bundles without
// a Dockerfile, so authors can preview what their source would build with.
type RecipeCmd struct {
	Dir   string `arg:"" optional:"" default:"." help:"Source directory to inspect."`
	Write bool   `short:"w" help:"Write the recipe to <dir>/Dockerfile instead of stdout."`
}

// Executes the recipe command.
func (c *RecipeCmd) Run(ctx context.Context) error {
	content, err := recipe.Generate(c.Dir)
	if err != nil {
		return err
	}

	if !c.Write {
		fmt.Print(content)
		return nil
	}

	target := filepath.Join(c.Dir, recipe.DefaultName)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", target)
	}
	return os.WriteFile(target, []byte(content), paths.DefaultFileMode)
}
