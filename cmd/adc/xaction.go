package main

import (
	"fmt"

	"github.com/scott-cotton/cli"
)

func xactions(cfg *XactionConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Xaction.Parse(cc, args)
	if err != nil {
		return err
	}
	c, err := cfg.dial()
	if err != nil {
		return err
	}
	defer c.Disconnect()
	p := cfg.printer(cc.Out)

	if len(args) > 0 {
		for _, name := range args {
			state, err := c.GetServerTransactionState(name)
			if err != nil {
				return fmt.Errorf("error getting state of %s: %w", name, err)
			}
			p.line("%s %s", p.key("%s", name), state)
		}
		return nil
	}

	var names []string
	if cfg.Committed {
		names, err = c.GetAllCommittedTransactions()
	} else {
		names, err = c.GetAllActiveTransactions()
	}
	if err != nil {
		return err
	}
	for _, name := range names {
		p.line("%s", name)
	}
	return nil
}
