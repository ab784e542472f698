package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/client"
)

// printer writes ads and diffs, colored when asked to or when writing to
// a terminal.
type printer struct {
	w      io.Writer
	key    func(string, ...any) string
	attr   func(string, ...any) string
	faint  func(string, ...any) string
	insert func(string, ...any) string
	delete func(string, ...any) string
}

func plain(format string, args ...any) string { return fmt.Sprintf(format, args...) }

func (cfg *MainConfig) printer(w io.Writer) *printer {
	p := &printer{w: w, key: plain, attr: plain, faint: plain, insert: plain, delete: plain}
	if !cfg.colors(w) {
		return p
	}
	color.NoColor = false
	p.key = color.RGB(196, 96, 16).SprintfFunc()
	p.attr = color.RGB(128, 216, 236).SprintfFunc()
	p.faint = color.RGB(74, 92, 138).SprintfFunc()
	p.insert = color.GreenString
	p.delete = color.RedString
	return p
}

func (cfg *MainConfig) colors(w io.Writer) bool {
	if cfg.Color {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

// ad prints ad one attribute per line under an optional key heading.
func (p *printer) ad(key string, ad *classad.Ad) {
	if key != "" {
		fmt.Fprintln(p.w, p.key("%s", key))
	}
	fmt.Fprintln(p.w, p.faint("["))
	for _, name := range ad.Names() {
		fmt.Fprintf(p.w, "  %s = %s;\n", p.attr("%s", name), ad.Lookup(name).String())
	}
	fmt.Fprintln(p.w, p.faint("]"))
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// dial connects to the configured server.
func (cfg *MainConfig) dial() (*client.Client, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: bad -timeout: %w", cli.ErrUsage, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	opts := &client.Options{}
	if cfg.NoAck {
		opts.AckMode = client.DontWantAcks
	}
	c, err := client.Dial(ctx, cfg.Addr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}
	return c, nil
}

func parseAd(arg string) (*classad.Ad, error) {
	ad, err := classad.Parse(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ad %q: %w", cli.ErrUsage, arg, err)
	}
	return ad, nil
}
