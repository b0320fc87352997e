// Package server exposes the build orchestrator over HTTP.
//
// The daemon listens on a Unix domain socket by default (restricted to
// the owner and the kilnd group) or on TCP when the listen address is a
// host:port. Routes live under /v1: builds are started, listed,
// inspected, cancelled, and pushed through JSON request-response
// exchanges, build logs are served as plain text, and /v1/healthz probes
// the external build tool.
//
// Errors carry an errdefs class and map to HTTP status codes through
// errhttp, so a capacity rejection surfaces as 429 and an unknown build
// as 404.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    Listen:  paths.Socket(),
//	    Builds:  orch,
//	    Runtime: rt,
//	})
//	if err != nil {
//	    return err
//	}
//
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop(ctx)
//
//	srv.Wait()
package server
