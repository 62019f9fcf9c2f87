package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/treesync/treesync/internal/store"
	"github.com/treesync/treesync/internal/sync"
)

var (
	green  = color.New(color.FgHiGreen).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	yellow = color.New(color.FgHiYellow, color.Bold).SprintFunc()
)

// progressThreshold keeps per-chunk progress lines to files big enough to
// be worth watching.
const progressThreshold = 8 << 20

// consoleObserver renders engine notifications for a terminal user.
type consoleObserver struct {
	out          io.Writer
	lastProgress map[string]int64
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out, lastProgress: map[string]int64{}}
}

func (c *consoleObserver) OnAction(rec *sync.ActionRecord) {
	switch rec.Action {
	case sync.ActionCreate:
		fmt.Fprintf(c.out, "%s %s%s\n", green("+ create"), rec.Path, c.size(rec.Source))
	case sync.ActionUpdate:
		fmt.Fprintf(c.out, "%s %s%s (%s)\n", cyan("~ update"), rec.Path, c.size(rec.Source), rec.Method)
	case sync.ActionDelete:
		fmt.Fprintf(c.out, "%s %s\n", red("- delete"), rec.Path)
	case sync.ActionSkip:
		fmt.Fprintf(c.out, "%s %s (%s)\n", faint("= skip"), faint(rec.Path), faint(string(rec.Method)))
	}
	delete(c.lastProgress, rec.Path)
}

func (c *consoleObserver) OnError(rec *sync.ErrorRecord) {
	if rec.Final {
		fmt.Fprintf(c.out, "%s %s: %v\n", yellow("! failed"), rec.Path, rec.Err)
		return
	}
	fmt.Fprintf(c.out, "%s %s: attempt %d: %v\n", yellow("! retry"), rec.Path, rec.Attempt, rec.Err)
}

func (c *consoleObserver) OnProgress(rec *sync.ProgressRecord) {
	if rec.Total < progressThreshold {
		return
	}
	// Quarter-step reporting, deduplicated per file.
	step := rec.Total / 4
	if step == 0 {
		return
	}
	milestone := rec.Copied / step
	if milestone <= c.lastProgress[rec.Path] || rec.Copied == rec.Total {
		return
	}
	c.lastProgress[rec.Path] = milestone
	fmt.Fprintf(c.out, "%s %s %s / %s\n",
		faint("… copy"), rec.Path,
		humanize.Bytes(uint64(rec.Copied)), humanize.Bytes(uint64(rec.Total)))
}

func (c *consoleObserver) size(it store.Item) string {
	f, ok := it.(store.File)
	if !ok {
		return ""
	}
	return " " + faint("("+humanize.Bytes(uint64(f.Size()))+")")
}

func (c *consoleObserver) printSummary(result *sync.Result) {
	if result == nil {
		return
	}
	s := result.Stats
	fmt.Fprintf(c.out, "\n%s in %s\n", string(result.Outcome), result.Duration().Round(time.Millisecond))
	fmt.Fprintf(c.out, "  dirs:  %d seen, %d created, %d deleted\n", s.DirsSeen, s.DirsCreated, s.DirsDeleted)
	fmt.Fprintf(c.out, "  files: %d seen, %d created, %d updated, %d deleted\n",
		s.FilesSeen, s.FilesCreated, s.FilesUpdated, s.FilesDeleted)
}
