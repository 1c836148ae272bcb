// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// VersionCommand prints the build version and commit, grounded on
// quarry/cli/cmd/version.go.
func VersionCommand(version, commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Printf("towldb %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
