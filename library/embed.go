// Package library provides the embedded built-in prompt catalog. This
// package exists solely to satisfy go:embed's requirement that embedded
// files reside in or below the embedding package directory.
//
// Each subdirectory is a catalog category; each markdown file is one
// prompt named after the file. The runtime catalog lives in
// internal/catalog.
package library

import "embed"

// FS contains the shipped prompt markdown files.
//
//go:embed */*.md
var FS embed.FS
