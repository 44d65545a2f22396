//go:build !unix

package store

import "os"

// No advisory locking here; uploads are still published by rename.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
