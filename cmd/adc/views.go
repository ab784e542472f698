package main

import (
	"fmt"
	"strings"

	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/classad"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/client"
)

func viewArgs(cfg *ViewSubConfig, cc *cli.Context, args []string, lo, hi int) ([]string, error) {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return nil, err
	}
	if len(args) < lo || len(args) > hi {
		return nil, fmt.Errorf("%w: wrong number of arguments", cli.ErrUsage)
	}
	return args, nil
}

func viewList(cfg *ViewSubConfig, cc *cli.Context, args []string) error {
	args, err := viewArgs(cfg, cc, args, 0, 1)
	if err != nil {
		return err
	}
	name := api.RootView
	if len(args) == 1 {
		name = args[0]
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	return printTree(c, cfg.printer(cc.Out), name, "", "")
}

// printTree prints view name and, indented below it, its subordinate
// views and partitions.
func printTree(c *client.Client, p *printer, name, indent, mark string) error {
	info, err := c.GetViewInfo(name)
	if err != nil {
		return fmt.Errorf("error getting view %s: %w", name, err)
	}
	n, _ := info.EvalInt(api.AttrNumMembers)
	p.line("%s%s%s %s", indent, mark, p.key("%s", name), p.faint("(%d)", n))
	subs, _ := info.EvalStringList(api.AttrSubordinate)
	parts, _ := info.EvalStringList(api.AttrPartitioned)
	for _, sub := range subs {
		if err := printTree(c, p, sub, indent+"  ", ""); err != nil {
			return err
		}
	}
	for _, part := range parts {
		if err := printTree(c, p, part, indent+"  ", "%"); err != nil {
			return err
		}
	}
	return nil
}

func viewInfo(cfg *ViewSubConfig, cc *cli.Context, args []string) error {
	args, err := viewArgs(cfg, cc, args, 1, 1)
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	info, err := c.GetViewInfo(args[0])
	if err != nil {
		return err
	}
	cfg.printer(cc.Out).ad("", info)
	return nil
}

func viewRemove(cfg *ViewSubConfig, cc *cli.Context, args []string) error {
	args, err := viewArgs(cfg, cc, args, 1, 1)
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	return c.DeleteView(args[0])
}

func viewSet(cfg *ViewSubConfig, cc *cli.Context, args []string) error {
	args, err := viewArgs(cfg, cc, args, 2, 2)
	if err != nil {
		return err
	}
	info, err := parseAd(args[1])
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	return c.SetViewInfo(args[0], info)
}

func viewFind(cfg *ViewSubConfig, cc *cli.Context, args []string) error {
	args, err := viewArgs(cfg, cc, args, 2, 2)
	if err != nil {
		return err
	}
	rep, err := parseAd(args[1])
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	part, found, err := c.FindPartitionName(args[0], rep)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no partition of %s for %s", args[0], classad.Unparse(rep))
	}
	fmt.Fprintln(cc.Out, part)
	return nil
}

func viewCreate(cfg *ViewCreateConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Create.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: create requires a view name", cli.ErrUsage)
	}
	info := classad.New()
	for _, e := range []struct{ attr, src string }{
		{api.AttrRequirements, cfg.Constraint},
		{api.AttrRank, cfg.Rank},
	} {
		if e.src == "" {
			continue
		}
		x, err := classad.ParseExpr(e.src)
		if err != nil {
			return fmt.Errorf("%w: bad %s %q: %w", cli.ErrUsage, e.attr, e.src, err)
		}
		info.Insert(e.attr, x)
	}
	if cfg.Partition != "" {
		var exprs []*classad.Expr
		for _, src := range strings.Split(cfg.Partition, ",") {
			x, err := classad.ParseExpr(strings.TrimSpace(src))
			if err != nil {
				return fmt.Errorf("%w: bad partition expression %q: %w", cli.ErrUsage, src, err)
			}
			exprs = append(exprs, x)
		}
		info.Insert(api.AttrPartitionExprs, classad.List(exprs...))
	}

	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	return c.CreateSubView(args[0], cfg.Parent, info)
}

func viewPartition(cfg *ViewPartitionConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Partition.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: partition requires a representative ad", cli.ErrUsage)
	}
	rep, err := parseAd(args[0])
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	if err := c.CreatePartition(cfg.Name, cfg.Parent, nil, rep); err != nil {
		return err
	}
	part, _, err := c.FindPartitionName(cfg.Parent, rep)
	if err != nil {
		return err
	}
	fmt.Fprintln(cc.Out, part)
	return nil
}
