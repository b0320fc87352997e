package recipe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Ports exposed by generated recipes, per ecosystem convention.
const (
	pythonPort  = 8000
	defaultPort = 8080
)

// Accumulates recipe text line by line.
//
// All output flows through this type so that every archetype emits the
// same overall shape and generation stays byte-deterministic.
type renderer struct {
	b strings.Builder
}

func newRenderer(a Archetype) *renderer {
	r := &renderer{}
	fmt.Fprintf(&r.b, "# Generated by kilnd (%s archetype). Edit by adding a Dockerfile to the bundle.\n", a)
	return r
}

func (r *renderer) from(image string)            { fmt.Fprintf(&r.b, "FROM %s\n", image) }
func (r *renderer) fromAs(image, stage string)   { fmt.Fprintf(&r.b, "FROM %s AS %s\n", image, stage) }
func (r *renderer) workdir(dir string)           { fmt.Fprintf(&r.b, "WORKDIR %s\n", dir) }
func (r *renderer) copy(args string)             { fmt.Fprintf(&r.b, "COPY %s\n", args) }
func (r *renderer) copyFrom(stage, args string)  { fmt.Fprintf(&r.b, "COPY --from=%s %s\n", stage, args) }
func (r *renderer) run(command string)           { fmt.Fprintf(&r.b, "RUN %s\n", command) }
func (r *renderer) env(key, value string)        { fmt.Fprintf(&r.b, "ENV %s=%s\n", key, value) }
func (r *renderer) expose(port int)              { fmt.Fprintf(&r.b, "EXPOSE %d\n", port) }
func (r *renderer) cmd(command string)           { fmt.Fprintf(&r.b, "CMD %s\n", command) }

// Emits a periodic health probe against the conventional /health path.
func (r *renderer) healthcheck(probe string) {
	fmt.Fprintf(&r.b, "HEALTHCHECK --interval=30s --timeout=3s --start-period=5s --retries=3 \\\n  CMD %s\n", probe)
}

func (r *renderer) String() string {
	return r.b.String()
}

// Probe command for images whose base ships busybox wget.
func wgetProbe(port int) string {
	return fmt.Sprintf("wget -qO- http://127.0.0.1:%d/health || exit 1", port)
}

// Renders the recipe for a Python project.
func pythonRecipe() string {
	r := newRenderer(ArchetypePython)
	r.from("python:3.12-slim")
	r.workdir("/app")
	r.env("PYTHONUNBUFFERED", "1")
	r.copy("requirements.txt ./")
	r.run("pip install --no-cache-dir -r requirements.txt")
	r.copy(". .")
	r.expose(pythonPort)
	r.healthcheck(fmt.Sprintf(`python -c "import urllib.request; urllib.request.urlopen('http://127.0.0.1:%d/health')" || exit 1`, pythonPort))
	r.cmd("python main.py")
	return r.String()
}

// Renders the two-stage recipe for a Go module: a compile stage and a
// minimal runtime stage carrying only the binary.
func goRecipe() string {
	r := newRenderer(ArchetypeGo)
	r.fromAs("golang:1.23-alpine", "build")
	r.workdir("/src")
	r.copy("go.* ./")
	r.run("go mod download")
	r.copy(". .")
	r.run("CGO_ENABLED=0 go build -o /out/app .")
	r.from("alpine:3.20")
	r.workdir("/app")
	r.copyFrom("build", "/out/app ./app")
	r.expose(defaultPort)
	r.healthcheck(wgetProbe(defaultPort))
	r.cmd("./app")
	return r.String()
}

// Renders the two-stage recipe for a Java project, using whichever build
// descriptor is present.
func javaRecipe(srcDir string) string {
	r := newRenderer(ArchetypeJava)
	if fileExists(filepath.Join(srcDir, "pom.xml")) {
		r.fromAs("maven:3.9-eclipse-temurin-21", "build")
		r.workdir("/src")
		r.copy(". .")
		r.run("mvn -q package -DskipTests")
		r.from("eclipse-temurin:21-jre")
		r.workdir("/app")
		r.copyFrom("build", "/src/target/*.jar ./app.jar")
	} else {
		r.fromAs("gradle:8.10-jdk21", "build")
		r.workdir("/src")
		r.copy(". .")
		r.run("gradle build -x test --no-daemon")
		r.from("eclipse-temurin:21-jre")
		r.workdir("/app")
		r.copyFrom("build", "/src/build/libs/*.jar ./app.jar")
	}
	r.expose(defaultPort)
	r.healthcheck(fmt.Sprintf("curl -f http://127.0.0.1:%d/health || exit 1", defaultPort))
	r.cmd("java -jar app.jar")
	return r.String()
}

// Renders the fallback recipe for trees matching no archetype.
//
// The image carries the sources but refuses to start, signalling that the
// project needs a hand-written recipe.
func genericRecipe() string {
	r := newRenderer(ArchetypeGeneric)
	r.from("alpine:3.20")
	r.workdir("/app")
	r.copy(". .")
	r.expose(defaultPort)
	r.healthcheck(wgetProbe(defaultPort))
	r.cmd(`echo "no build archetype detected: add a Dockerfile to the bundle" && exit 1`)
	return r.String()
}
