// Retrieves source bundles from a content-addressed store.
//
// A [Store] resolves an opaque bundle identifier to a byte stream. Two
// backends are provided: [DirStore] reads files from a local directory and
// [ObjectStore] reads objects from an S3-compatible bucket. [Verified]
// layers digest verification over either backend for identifiers that
// carry an OCI digest.
//
// Example usage:
//
//	store, err := blob.NewDirStore("/var/lib/kilnd/bundles")
//	if err != nil {
//	    return err
//	}
//
//	rc, err := blob.Verified(store).Download(ctx, "sha256:8f43...")
//	if err != nil {
//	    return err
//	}
//	defer rc.Close()
package blob
