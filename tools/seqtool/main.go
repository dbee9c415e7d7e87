// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Run with `go run ./tools/seqtool`

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "asebytes Sequence Toolbox",
		HelpName:  "seqtool",
		Usage:     "A set of utilities to inspect and modify record sequences",
		Copyright: "(c) 2024 zincware",
		Flags: []cli.Flag{
			&configFlag,
			&dirFlag,
			&variantFlag,
			&prefixFlag,
			&compressionFlag,
			&logLevelFlag,
			&metricsAddrFlag,
		},
		Commands: []*cli.Command{
			&infoCommand,
			&getCommand,
			&keysCommand,
			&dumpCommand,
			&verifyCommand,
			&hashCommand,
			&appendCommand,
			&insertCommand,
			&setCommand,
			&updateCommand,
			&deleteCommand,
			&importCommand,
		},
	}
}
