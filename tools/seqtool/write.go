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
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
	"github.com/zincware/asebytes/sequence"
)

var batchFlag = cli.IntFlag{
	Name:  "batch",
	Usage: "the number of records appended per transaction",
	Value: 1000,
}

var appendCommand = cli.Command{
	Action:    appendRecord,
	Name:      "append",
	Usage:     "appends a record with the given fields",
	ArgsUsage: "[NAME=VALUE...]",
}

var insertCommand = cli.Command{
	Action:    insertRecord,
	Name:      "insert",
	Usage:     "inserts a record with the given fields before an index",
	ArgsUsage: "INDEX [NAME=VALUE...]",
}

var setCommand = cli.Command{
	Action:    setRecord,
	Name:      "set",
	Usage:     "replaces the record at an index",
	ArgsUsage: "INDEX [NAME=VALUE...]",
}

var updateCommand = cli.Command{
	Action:    updateRecord,
	Name:      "update",
	Usage:     "sets individual fields of the record at an index",
	ArgsUsage: "INDEX NAME=VALUE...",
}

var deleteCommand = cli.Command{
	Action:    deleteRecord,
	Name:      "delete",
	Usage:     "removes the record at an index",
	ArgsUsage: "INDEX",
}

var importCommand = cli.Command{
	Action:    importRecords,
	Name:      "import",
	Usage:     "appends records read as JSON lines from a file or stdin",
	ArgsUsage: "[FILE|-]",
	Flags: []cli.Flag{
		&batchFlag,
	},
}

func appendRecord(c *cli.Context) error {
	record, err := parseFields(c.Args().Slice())
	if err != nil {
		return err
	}
	return run(c, false, func(s *session) error {
		return s.seq.Append(s.ctx, record)
	})
}

// modify runs an operation on the record at the index given as the first
// argument, using the remaining arguments as fields.
func modify(c *cli.Context, op func(s *session, index int, record sequence.Record) error) error {
	index, err := parseIndex(c)
	if err != nil {
		return err
	}
	record, err := parseFields(c.Args().Tail())
	if err != nil {
		return err
	}
	return run(c, false, func(s *session) error {
		return op(s, index, record)
	})
}

func insertRecord(c *cli.Context) error {
	return modify(c, func(s *session, index int, record sequence.Record) error {
		return s.seq.Insert(s.ctx, index, record)
	})
}

func setRecord(c *cli.Context) error {
	return modify(c, func(s *session, index int, record sequence.Record) error {
		return s.seq.Set(s.ctx, index, record)
	})
}

func updateRecord(c *cli.Context) error {
	return modify(c, func(s *session, index int, record sequence.Record) error {
		return s.seq.Update(s.ctx, index, record)
	})
}

func deleteRecord(c *cli.Context) error {
	return modify(c, func(s *session, index int, _ sequence.Record) error {
		return s.seq.Delete(s.ctx, index)
	})
}

func importRecords(c *cli.Context) error {
	var in io.Reader = os.Stdin
	if c.App.Reader != nil {
		in = c.App.Reader
	}
	if name := c.Args().First(); name != "" && name != "-" {
		file, err := os.Open(name)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}
	batchSize := max(c.Int(batchFlag.Name), 1)

	return run(c, false, func(s *session) error {
		decoder := json.NewDecoder(bufio.NewReader(in))
		progress := s.log.NewProgressTracker("importing records", 100_000)
		batch := make([]sequence.Record, 0, batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := s.seq.Extend(s.ctx, batch); err != nil {
				return err
			}
			progress.Step(len(batch))
			batch = batch[:0]
			return nil
		}
		for line := 1; ; line++ {
			var record map[string][]byte
			if err := decoder.Decode(&record); err == io.EOF {
				break
			} else if err != nil {
				return fmt.Errorf("failed to parse record %d; %w", line, err)
			}
			batch = append(batch, record)
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}
		s.log.Print("import finished", "records", progress.GetCounter())
		return nil
	})
}
