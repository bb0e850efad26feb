// Package version reports the running build and the newest published
// release, read from the image registry's tag listing.
package version
