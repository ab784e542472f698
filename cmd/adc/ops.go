package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/system/collectd/client"
)

func get(cfg *AdConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: get requires at least one key", cli.ErrUsage)
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	p := cfg.printer(cc.Out)
	for _, key := range args {
		ad, err := c.GetClassAd(key)
		if err != nil {
			return fmt.Errorf("error getting %s: %w", key, err)
		}
		p.ad(key, ad)
	}
	return nil
}

// inXaction runs fn on a fresh connection, inside a transaction when name
// is set, and reports how the transaction ended.
func inXaction(cfg *MainConfig, cc *cli.Context, name string, local bool, fn func(*client.Client) error) error {
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	if name == "" {
		return fn(c)
	}
	if local {
		name, err = c.OpenLocalTransaction(name)
	} else {
		name, err = c.OpenTransaction(name)
	}
	if err != nil {
		return fmt.Errorf("error opening transaction %s: %w", name, err)
	}
	if err := fn(c); err != nil {
		c.CloseTransaction(name, false)
		return err
	}
	outcome, err := c.CloseTransaction(name, true)
	fmt.Fprintf(cc.Out, "transaction %s %s\n", name, outcome)
	return err
}

func keyAndAd(cfg *AdConfig, cc *cli.Context, args []string, verb string) ([]string, error) {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: %s requires a key and an ad", cli.ErrUsage, verb)
	}
	return args, nil
}

func add(cfg *AdConfig, cc *cli.Context, args []string) error {
	args, err := keyAndAd(cfg, cc, args, "add")
	if err != nil {
		return err
	}
	ad, err := parseAd(args[1])
	if err != nil {
		return err
	}
	return inXaction(cfg.MainConfig, cc, cfg.Xaction, false, func(c *client.Client) error {
		return c.AddClassAd(args[0], ad)
	})
}

func update(cfg *AdConfig, cc *cli.Context, args []string) error {
	args, err := keyAndAd(cfg, cc, args, "update")
	if err != nil {
		return err
	}
	ad, err := parseAd(args[1])
	if err != nil {
		return err
	}
	return inXaction(cfg.MainConfig, cc, cfg.Xaction, false, func(c *client.Client) error {
		return c.UpdateClassAd(args[0], ad)
	})
}

func modify(cfg *AdConfig, cc *cli.Context, args []string) error {
	args, err := keyAndAd(cfg, cc, args, "modify")
	if err != nil {
		return err
	}
	mod, err := parseAd(args[1])
	if err != nil {
		return err
	}
	return inXaction(cfg.MainConfig, cc, cfg.Xaction, false, func(c *client.Client) error {
		return c.ModifyClassAd(args[0], mod)
	})
}

func remove(cfg *AdConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Command.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: rm requires at least one key", cli.ErrUsage)
	}
	return inXaction(cfg.MainConfig, cc, cfg.Xaction, false, func(c *client.Client) error {
		for _, key := range args {
			if err := c.RemoveClassAd(key); err != nil {
				return fmt.Errorf("error removing %s: %w", key, err)
			}
		}
		return nil
	})
}

type keyedAd struct {
	key, text string
	line      int
}

// readAds reads "key ad" lines.
func readAds(r io.Reader) ([]keyedAd, error) {
	var res []keyedAd
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, text, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: expected a key and an ad", n)
		}
		res = append(res, keyedAd{key: key, text: strings.TrimSpace(text), line: n})
	}
	return res, sc.Err()
}

func load(cfg *LoadAdsConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Load.Parse(cc, args)
	if err != nil {
		return err
	}
	if cfg.Local && cfg.Xaction == "" {
		return fmt.Errorf("%w: -local requires -x", cli.ErrUsage)
	}
	var r io.Reader = cc.In
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("error opening %s: %w", args[0], err)
		}
		defer f.Close()
		r = f
	}
	ads, err := readAds(r)
	if err != nil {
		return err
	}
	return inXaction(cfg.MainConfig, cc, cfg.Xaction, cfg.Local, func(c *client.Client) error {
		for _, ka := range ads {
			ad, err := parseAd(ka.text)
			if err != nil {
				return fmt.Errorf("line %d: %w", ka.line, err)
			}
			if err := c.AddClassAd(ka.key, ad); err != nil {
				return fmt.Errorf("line %d: error adding %s: %w", ka.line, ka.key, err)
			}
		}
		fmt.Fprintf(cc.Out, "loaded %d ads\n", len(ads))
		return nil
	})
}
