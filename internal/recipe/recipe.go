package recipe

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/emberhq/kilnd/internal/paths"
)

// Default recipe file name looked up in the context root.
const DefaultName = "Dockerfile"

// Identifies the detected project category driving recipe selection.
type Archetype string

const (
	ArchetypeNode    Archetype = "node"
	ArchetypePython  Archetype = "python"
	ArchetypeGo      Archetype = "go"
	ArchetypeRust    Archetype = "rust"
	ArchetypeJava    Archetype = "java"
	ArchetypeGeneric Archetype = "generic"
)

// Determines the recipe file a build should use.
//
// When a recipe already exists at the caller-supplied relative path, or at
// [DefaultName] when no path is given, it is used as-is and generation is
// skipped. A caller-supplied path that does not exist is an error; the
// caller explicitly asked for that file. Without an existing recipe, one is
// generated from the detected archetype and written at [DefaultName].
//
// The returned path is relative to srcDir.
func Resolve(srcDir, customPath string) (relPath string, generated bool, err error) {
	if customPath != "" {
		if !filepath.IsLocal(customPath) {
			return "", false, fmt.Errorf("%w: recipe path %q escapes the build context", ErrRecipe, customPath)
		}
		if _, err := os.Stat(filepath.Join(srcDir, customPath)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("%w: recipe %q not found in bundle", ErrRecipe, customPath)
			}
			return "", false, fmt.Errorf("%w: %w", ErrRecipe, err)
		}
		return customPath, false, nil
	}

	if _, err := os.Stat(filepath.Join(srcDir, DefaultName)); err == nil {
		return DefaultName, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("%w: %w", ErrRecipe, err)
	}

	text, err := Generate(srcDir)
	if err != nil {
		return "", false, err
	}

	target := filepath.Join(srcDir, DefaultName)
	if err := os.WriteFile(target, []byte(text), paths.DefaultFileMode); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrRecipe, err)
	}

	return DefaultName, true, nil
}

// Produces recipe text for the project tree rooted at srcDir.
//
// The result is a pure function of the inspected file set: identical trees
// yield byte-identical recipes. Malformed manifest files never fail
// generation; their optional fields simply fall back to defaults.
func Generate(srcDir string) (string, error) {
	switch Detect(srcDir) {
	case ArchetypeNode:
		return nodeRecipe(srcDir), nil
	case ArchetypePython:
		return pythonRecipe(), nil
	case ArchetypeGo:
		return goRecipe(), nil
	case ArchetypeRust:
		return rustRecipe(srcDir), nil
	case ArchetypeJava:
		return javaRecipe(srcDir), nil
	default:
		return genericRecipe(), nil
	}
}
