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
	"bufio"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
	"github.com/zincware/asebytes/common"
	"github.com/zincware/asebytes/sequence"
)

var (
	textFlag = cli.BoolFlag{
		Name:  "text",
		Usage: "print field values as text instead of base64",
	}
	fromFlag = cli.IntFlag{
		Name:  "from",
		Usage: "the first index to dump",
	}
	toFlag = cli.IntFlag{
		Name:  "to",
		Usage: "the index to stop dumping at, all records if negative",
		Value: -1,
	}
)

var infoCommand = cli.Command{
	Action: getInfo,
	Name:   "info",
	Usage:  "prints summary information about a sequence",
}

var getCommand = cli.Command{
	Action:    getRecord,
	Name:      "get",
	Usage:     "prints the record at an index, optionally restricted to some fields",
	ArgsUsage: "INDEX [FIELD...]",
	Flags: []cli.Flag{
		&textFlag,
	},
}

var keysCommand = cli.Command{
	Action:    getKeys,
	Name:      "keys",
	Usage:     "lists the field names of the record at an index",
	ArgsUsage: "INDEX",
}

var dumpCommand = cli.Command{
	Action: dump,
	Name:   "dump",
	Usage:  "writes records as JSON lines to stdout, in a format accepted by import",
	Flags: []cli.Flag{
		&fromFlag,
		&toFlag,
		&textFlag,
	},
}

var verifyCommand = cli.Command{
	Action: verify,
	Name:   "verify",
	Usage:  "checks the consistency of a sequence",
}

var hashCommand = cli.Command{
	Action: hash,
	Name:   "hash",
	Usage:  "prints a digest of the content of a sequence",
}

func getInfo(c *cli.Context) error {
	return run(c, true, func(s *session) error {
		length, err := s.seq.Len(s.ctx)
		if err != nil {
			return err
		}
		out := c.App.Writer
		fmt.Fprintf(out, "Length:      %d\n", length)
		fmt.Fprintf(out, "Compression: %s\n", s.seq.Compression())
		fmt.Fprintf(out, "Memory:\n%v", s.seq.GetMemoryFootprint())
		return nil
	})
}

func getRecord(c *cli.Context) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	return run(c, true, func(s *session) error {
		record, err := s.seq.GetFields(s.ctx, index, c.Args().Tail()...)
		if err != nil {
			return err
		}
		return writeRecord(c.App.Writer, record, c.Bool(textFlag.Name))
	})
}

func getKeys(c *cli.Context) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	return run(c, true, func(s *session) error {
		names, err := s.seq.Keys(s.ctx, index)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(c.App.Writer, name)
		}
		return nil
	})
}

func dump(c *cli.Context) error {
	from, to := c.Int(fromFlag.Name), c.Int(toFlag.Name)
	text := c.Bool(textFlag.Name)
	return run(c, true, func(s *session) error {
		out := bufio.NewWriter(c.App.Writer)
		err := s.seq.View(s.ctx, func(tx *sequence.Tx) error {
			length, err := tx.Len()
			if err != nil {
				return err
			}
			if to < 0 || to > length {
				to = length
			}
			progress := s.log.NewProgressTracker("dumping records", 100_000)
			for i := max(from, 0); i < to; i++ {
				if err := s.ctx.Err(); err != nil {
					return err
				}
				record, err := tx.Get(i)
				if err != nil {
					return err
				}
				if err := writeRecord(out, record, text); err != nil {
					return err
				}
				progress.Step(1)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return out.Flush()
	})
}

func verify(c *cli.Context) error {
	return run(c, true, func(s *session) error {
		observer := &verificationObserver{log: s.log}
		if err := s.seq.Verify(s.ctx, observer); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "Verification successful")
		return nil
	})
}

type verificationObserver struct {
	log *common.Log
}

func (o *verificationObserver) StartVerification() {
	o.log.Print("starting verification")
}

func (o *verificationObserver) Progress(msg string) {
	o.log.Print(msg)
}

func (o *verificationObserver) EndVerification(res error) {
	if res != nil {
		o.log.Print("verification failed", "error", res)
	} else {
		o.log.Print("verification successful")
	}
}

func hash(c *cli.Context) error {
	return run(c, true, func(s *session) error {
		digest, err := s.seq.Hash(s.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Sequence hash: %v\n", digest)
		return nil
	})
}

// writeRecord writes a record as a single JSON line. Values are base64
// encoded unless text output is requested.
func writeRecord(out io.Writer, record sequence.Record, text bool) error {
	var value any = map[string][]byte(record)
	if text {
		fields := make(map[string]string, len(record))
		for name, data := range record {
			fields[name] = string(data)
		}
		value = fields
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, '\n'))
	return err
}
