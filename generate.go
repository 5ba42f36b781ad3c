//go:build generate
// +build generate

package main

import (
	_ "github.com/golang/mock/gomock"
	_ "github.com/golang/mock/mockgen"
	_ "golang.org/x/tools/go/packages"
)

//go:generate echo Generating mocks...

/// Generate mock stubs
//go:generate mockgen -package mockhost -destination internal/mocks/mockhost/runner.go gopkg.hrry.dev/edgestack/pkg/host Runner
