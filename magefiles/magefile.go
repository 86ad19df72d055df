//go:build mage

// Build targets for dialogdb.
//
//	mage build   compile bin/dialogdb
//	mage test    run every package's tests
//	mage race    run the tests with the race detector
//	mage lint    go vet and golangci-lint
//	mage clean   remove build artifacts
package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "dialogdb"
	binaryDir  = "bin"
	cmdDir     = "./cmd/dialogdb"
)

var Default = Build

// Build compiles the CLI to bin/, stamping the version from git when available.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || version == "" {
		version = "dev"
	}
	return sh.RunV("go", "build",
		"-ldflags", "-X main.version="+version,
		"-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Race runs all tests with the race detector.
func Race() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs go vet, then golangci-lint.
func Lint() error {
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV("go", "clean")
}

// All builds, lints and tests.
func All() {
	mg.SerialDeps(Build, Lint, Test)
}
