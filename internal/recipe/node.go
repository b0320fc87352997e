package recipe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
)

const (

	// Base-image major used when the manifest declares no usable engine.
	defaultNodeMajor = 20

	// Start command used when the manifest declares no start script.
	defaultNodeStart = "node server.js"

	// Port Node services conventionally listen on.
	nodePort = 3000
)

// Node majors a generated recipe may select, newest first.
var nodeMajors = []uint64{24, 22, 20, 18}

// Fields read from package.json. Everything is optional.
type nodeManifest struct {
	Engines struct {
		Node string `json:"node"`
	} `json:"engines"`
	Scripts map[string]string `json:"scripts"`
}

// Renders the recipe for a Node.js project.
//
// The manifest's engines.node constraint picks the base-image major, a
// build script adds a build step, and the start script becomes the start
// command. Missing or malformed manifest data falls back to defaults.
func nodeRecipe(srcDir string) string {
	manifest := readNodeManifest(srcDir)

	start := manifest.Scripts["start"]
	if start == "" {
		start = defaultNodeStart
	}

	r := newRenderer(ArchetypeNode)
	r.from(fmt.Sprintf("node:%d-alpine", nodeMajor(manifest.Engines.Node)))
	r.workdir("/app")
	r.copy("package*.json ./")
	r.run("npm install")
	r.copy(". .")
	if manifest.Scripts["build"] != "" {
		r.run("npm run build")
	}
	r.expose(nodePort)
	r.healthcheck(wgetProbe(nodePort))
	r.cmd(start)
	return r.String()
}

// Parses package.json, returning the zero manifest on any error.
func readNodeManifest(srcDir string) nodeManifest {
	var manifest nodeManifest

	data, err := os.ReadFile(filepath.Join(srcDir, "package.json"))
	if err != nil {
		return manifest
	}

	// A malformed manifest falls back to defaults rather than failing
	// generation; json.Unmarshal leaves the struct zeroed on error.
	_ = json.Unmarshal(data, &manifest)
	return manifest
}

// Resolves an engines.node constraint to a supported major version.
//
// The newest supported major line able to satisfy the constraint wins, so
// ">=18" selects the newest line while "18.x" pins the matching one.
// Constraints that match no supported line, and constraints that do not
// parse at all, fall back to the default.
func nodeMajor(constraint string) uint64 {
	if constraint == "" {
		return defaultNodeMajor
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return defaultNodeMajor
	}

	for _, major := range nodeMajors {
		if lineSatisfies(c, major) {
			return major
		}
	}

	return defaultNodeMajor
}

// Reports whether some release in a major line satisfies the constraint.
// Probing the floor alone would miss ranges anchored mid-line, such as
// "^22.1.0", so a high representative of the line is checked too.
func lineSatisfies(c *semver.Constraints, major uint64) bool {
	return c.Check(semver.New(major, 0, 0, "", "")) ||
		c.Check(semver.New(major, 99, 99, "", ""))
}
