package recipe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Binary name used when Cargo.toml declares no package name.
const defaultRustBinary = "app"

// Fields read from Cargo.toml.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// Renders the two-stage recipe for a Rust project.
//
// The first stage prefetches dependencies against a stub main before the
// full source copy, so unchanged lock files reuse the compiled dependency
// layer. The runtime stage carries only the release binary, named after
// the Cargo package.
func rustRecipe(srcDir string) string {
	binary := cargoBinary(srcDir)

	r := newRenderer(ArchetypeRust)
	r.fromAs("rust:1.80-slim", "build")
	r.workdir("/src")
	r.copy("Cargo.toml Cargo.lock ./")
	r.run(`mkdir -p src && echo "fn main() {}" > src/main.rs && cargo build --release && rm -rf src`)
	r.copy(". .")
	r.run("touch src/main.rs && cargo build --release")
	r.from("debian:bookworm-slim")
	r.workdir("/app")
	r.copyFrom("build", fmt.Sprintf("/src/target/release/%s ./app", binary))
	r.expose(defaultPort)
	r.healthcheck(fmt.Sprintf("curl -f http://127.0.0.1:%d/health || exit 1", defaultPort))
	r.cmd("./app")
	return r.String()
}

// Reads the package name from Cargo.toml, falling back to a fixed default
// when the manifest is missing or malformed.
func cargoBinary(srcDir string) string {
	data, err := os.ReadFile(filepath.Join(srcDir, "Cargo.toml"))
	if err != nil {
		return defaultRustBinary
	}

	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil || manifest.Package.Name == "" {
		return defaultRustBinary
	}

	return manifest.Package.Name
}
