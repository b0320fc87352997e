// Materializes source bundles into build contexts.
//
// A bundle is an opaque, content-addressed gzip-compressed tar archive.
// [Prepare] downloads it from a blob store and expands it under the "src"
// subdirectory of a build's private working directory, producing the file
// tree the build tool and the recipe generator operate on. Extraction is
// hardened against path traversal; cleanup of the working directory is the
// caller's responsibility on every outcome.
package bundle
