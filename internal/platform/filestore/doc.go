// Package filestore keeps uploaded and processed audio artifacts on local
// disk. Artifacts are addressed by opaque refs of the form "<area>/<name>";
// callers never build filesystem paths themselves.
package filestore
