package main

import (
	"fmt"
	"strings"

	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/storage"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

func logDump(cfg *LogSubConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: dump requires a data directory", cli.ErrUsage)
	}
	recs, err := storage.ReadLog(args[0])
	if err != nil {
		return err
	}
	p := cfg.printer(cc.Out)
	for i, rec := range recs {
		op, _ := rec.EvalInt(api.AttrOpType)
		p.line("%s %s %s", p.faint("%4d", i), p.key("%-18s", api.Op(op)), classad.Unparse(rec))
	}
	return nil
}

func renderLog(recs []*classad.Ad) string {
	var b strings.Builder
	for _, rec := range recs {
		b.WriteString(classad.Unparse(rec))
		b.WriteByte('\n')
	}
	return b.String()
}

// printDiff prints a line diff of two record listings and reports whether
// they differ.
func printDiff(p *printer, from, to string) bool {
	dmp := diffpatch.New()
	fromRunes, toRunes, lines := dmp.DiffLinesToRunes(from, to)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(fromRunes, toRunes, false), lines)
	changed := false
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			line = strings.TrimSuffix(line, "\n")
			switch d.Type {
			case diffpatch.DiffDelete:
				changed = true
				p.line("%s", p.delete("- %s", line))
			case diffpatch.DiffInsert:
				changed = true
				p.line("%s", p.insert("+ %s", line))
			default:
				p.line("  %s", line)
			}
		}
	}
	return changed
}

func logDiff(cfg *LogSubConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: diff requires two data directories", cli.ErrUsage)
	}
	from, err := storage.ReadLog(args[0])
	if err != nil {
		return fmt.Errorf("error reading %s: %w", args[0], err)
	}
	to, err := storage.ReadLog(args[1])
	if err != nil {
		return fmt.Errorf("error reading %s: %w", args[1], err)
	}
	if printDiff(cfg.printer(cc.Out), renderLog(from), renderLog(to)) {
		return cli.ExitCodeErr(1)
	}
	return nil
}

func logCheckpoint(cfg *LogSubConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: checkpoint requires a data directory", cli.ErrUsage)
	}
	dir := args[0]
	recs, err := storage.ReadLog(dir)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		coll := storage.NewCollection()
		for _, rec := range recs {
			if err := coll.Replay(rec); err != nil {
				return fmt.Errorf("error replaying log: %w", err)
			}
		}
		printDiff(cfg.printer(cc.Out), renderLog(recs), renderLog(coll.Snapshot()))
		return nil
	}

	store, err := storage.Open(dir, &storage.Options{Sync: true})
	if err != nil {
		return err
	}
	defer store.Close()
	before := store.LogSize()
	if err := store.Checkpoint(); err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "rewrote %d records: %d -> %d bytes\n", len(recs), before, store.LogSize())
	return nil
}
