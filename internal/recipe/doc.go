// Generates build recipes for bundles that ship without one.
//
// A recipe is the build-tool-readable file (a Dockerfile) describing how a
// source tree becomes an image. [Resolve] checks the context root for an
// existing recipe, either at a caller-supplied relative path or at the
// default name, and only generates one when nothing is found.
//
// Generation inspects the top-level file set and picks an [Archetype] in a
// fixed priority order: Node.js (package.json), Python (requirements.txt),
// Go (go.mod), Rust (Cargo.lock), Java (pom.xml or build.gradle), then a
// generic fallback. Every generated recipe declares a base image, working
// directory, dependency installation, source copy, an exposed port, a
// health probe against /health, and a start command. Output is a pure
// function of the input tree; identical trees produce byte-identical
// recipes.
//
// Example usage:
//
//	path, generated, err := recipe.Resolve(srcDir, "")
//	if err != nil {
//	    return err
//	}
//	if generated {
//	    slog.Info("recipe generated", "path", path)
//	}
package recipe
