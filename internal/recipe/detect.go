package recipe

import (
	"os"
	"path/filepath"
)

// Pairs an archetype with the marker files that select it.
type detector struct {
	archetype Archetype
	markers   []string
}

// Detection order. The first archetype with a marker present wins, so an
// entry earlier in the list shadows everything after it (a tree with both
// package.json and go.mod builds as Node).
var detectors = []detector{
	{ArchetypeNode, []string{"package.json"}},
	{ArchetypePython, []string{"requirements.txt"}},
	{ArchetypeGo, []string{"go.mod"}},
	{ArchetypeRust, []string{"Cargo.lock"}},
	{ArchetypeJava, []string{"pom.xml", "build.gradle"}},
}

// Selects the archetype for the project tree rooted at srcDir.
//
// Only the top-level file set is inspected. Trees matching no archetype
// fall back to [ArchetypeGeneric].
func Detect(srcDir string) Archetype {
	for _, d := range detectors {
		for _, marker := range d.markers {
			if fileExists(filepath.Join(srcDir, marker)) {
				return d.archetype
			}
		}
	}
	return ArchetypeGeneric
}

// Returns true if path exists and is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
