// Package orchestrator coordinates container image builds end to end.
//
// A build starts from an opaque bundle id: the bundle is downloaded and
// expanded into a private working directory, a build recipe is resolved
// (or generated from the detected project archetype), and the external
// build tool is supervised through the build with a per-build timeout
// and streaming log capture. Records move through a fixed state machine:
//
//	pending -> building -> success | failed
//
// with a direct pending -> failed transition when preparation fails.
// Terminal records never change, and their working directories are
// removed on every terminal path.
//
// Concurrency is gated by a ceiling on non-terminal builds. The slot is
// reserved atomically with record creation; requests over the ceiling are
// rejected rather than queued. A retention sweeper evicts terminal
// records past a configurable horizon and deletes their images.
//
// Example usage:
//
//	orch := orchestrator.New(orchestrator.Options{
//	    Engine:       rt,
//	    Store:        store,
//	    WorkRoot:     paths.WorkRoot(),
//	    MaxBuilds:    4,
//	    BuildTimeout: 10 * time.Minute,
//	})
//	defer orch.Close()
//
//	id, err := orch.Start(ctx, orchestrator.Request{BundleID: "bundle-0001"})
//	if err != nil {
//	    return err
//	}
//
//	build, err := orch.Status(id)
package orchestrator
