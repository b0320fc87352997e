// Package runtime supervises the external container tool.
//
// A [Docker] drives the tool (docker or a compatible CLI) exclusively
// through child processes: build, inspect, tag, push, login, and remove
// each map to one invocation whose exit code and standard streams are the
// entire contract. No daemon API is used.
//
// Long-running operations stream their interleaved output chunk-wise to a
// callback and are registered in a process table, so cancellation and
// timeouts deliver a graceful termination signal before the forced kill.
// A lightweight [Docker.Ping] probe backs health checks.
//
// Example usage:
//
//	rt := runtime.New("docker", paths.DockerConfig())
//
//	err := rt.Build(ctx, runtime.BuildInput{
//	    ID:         "build-1",
//	    Tag:        runtime.BuildTag("build-1"),
//	    ContextDir: "/work/build-1/src",
//	    RecipePath: "Dockerfile",
//	}, func(chunk string) { log.Append(chunk) })
//	if err != nil {
//	    return err
//	}
//
//	info, err := rt.Inspect(ctx, runtime.BuildTag("build-1"))
package runtime
