package main

import (
	"fmt"
	"strings"

	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/client"
)

func query(cfg *QueryConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Query.Parse(cc, args)
	if err != nil {
		return err
	}
	constraint := strings.Join(args, " ")

	var opts []client.QueryOption
	if cfg.Postlude {
		opts = append(opts, client.WithPostlude())
	}
	if cfg.Count {
		opts = append(opts, client.CountOnly(), client.WithPostlude())
	}
	if cfg.Attrs != "" {
		attrs := strings.Split(cfg.Attrs, ",")
		for i := range attrs {
			attrs[i] = strings.TrimSpace(attrs[i])
		}
		opts = append(opts, client.WithProjection(attrs...))
	}

	c, err := cfg.dial()
	if err != nil {
		return err
	}
	p := cfg.printer(cc.Out)

	var seq client.Sequence
	if cfg.Reverse {
		b := client.NewBufferedCursor(c)
		seq = b
		defer b.Disconnect()
		if err := b.PostQuery(cfg.View, constraint, opts...); err != nil {
			return err
		}
		if err := b.ToAfterLast(); err != nil {
			return err
		}
		for r := b.Prev(); r != nil; r = b.Prev() {
			p.ad(r.Key, r.Ad)
		}
	} else {
		s := client.NewStreamCursor(c)
		seq = s
		defer s.Disconnect()
		if err := s.PostQuery(cfg.View, constraint, opts...); err != nil {
			return err
		}
		for {
			r, err := s.Next()
			if err != nil {
				return err
			}
			if r == nil {
				break
			}
			p.ad(r.Key, r.Ad)
		}
	}

	post := seq.Postlude()
	if post == nil {
		return nil
	}
	n, _ := post.EvalInt(api.AttrNumResults)
	if err := api.ErrorFromAd(post); err != nil {
		return fmt.Errorf("query on %s failed: %w", cfg.View, err)
	}
	p.line("%s", p.faint("%d results in %s", n, cfg.View))
	return nil
}
