package main

import (
	"github.com/scott-cotton/cli"
	"github.com/signadot/adcoll/system/collectd/api"
	"github.com/signadot/adcoll/system/collectd/server"
)

type MainConfig struct {
	Addr    string `cli:"name=addr desc='collectd address' default=localhost:9618"`
	NoAck   bool   `cli:"name=noack desc='do not wait for acks of ad operations'"`
	Color   bool   `cli:"name=color desc='output with color'"`
	Timeout string `cli:"name=timeout desc='connect timeout' default=10s"`

	Main *cli.Command
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{Addr: server.DefaultListen, Timeout: "10s"}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "adc").
		WithSynopsis("adc [opts] command [opts]").
		WithDescription("adc runs and talks to a classad collection server.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return adcMain(cfg, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			QueryCommand(cfg),
			GetCommand(cfg),
			AddCommand(cfg),
			UpdateCommand(cfg),
			ModifyCommand(cfg),
			RemoveCommand(cfg),
			LoadCommand(cfg),
			ViewCommand(cfg),
			XactionCommand(cfg),
			LogCommand(cfg))
}

type ServeConfig struct {
	*MainConfig
	Serve      *cli.Command
	ConfigFile string `cli:"name=config desc='configuration file (yaml)'"`
	DataDir    string `cli:"name=data desc='directory for the collection log'"`
	Listen     string `cli:"name=listen desc='TCP listen address, overrides the config file'"`
	NoSync     bool   `cli:"name=nosync desc='do not fsync log appends'"`
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithSynopsis("serve -data <dir> [-config <file>] [-listen <addr>]").
		WithDescription("run the collection server").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

type QueryConfig struct {
	*MainConfig
	Query    *cli.Command
	View     string `cli:"name=view desc='view to query' default=root"`
	Attrs    string `cli:"name=attrs desc='comma separated attributes to project'"`
	Postlude bool   `cli:"name=post desc='print the query summary'"`
	Count    bool   `cli:"name=count desc='only count the matches'"`
	Reverse  bool   `cli:"name=r desc='print results in reverse rank order'"`
}

func QueryCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &QueryConfig{MainConfig: mainCfg, View: api.RootView}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Query, "query").
		WithAliases("q").
		WithSynopsis("query [-view v] [-attrs a,b] [-post] [-count] [-r] [constraint]").
		WithDescription("query the ads of a view matching a constraint").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return query(cfg, cc, args)
		})
}

type AdConfig struct {
	*MainConfig
	Command *cli.Command
	Xaction string `cli:"name=x desc='run inside a new transaction with this name'"`
}

func GetCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &AdConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Command, "get").
		WithAliases("g").
		WithSynopsis("get <key>...").
		WithDescription("print stored ads").
		WithRun(func(cc *cli.Context, args []string) error {
			return get(cfg, cc, args)
		})
}

func adOpCommand(mainCfg *MainConfig, name, synopsis, desc string, run func(*AdConfig, *cli.Context, []string) error) *cli.Command {
	cfg := &AdConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, name).
		WithSynopsis(synopsis).
		WithDescription(desc).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return run(cfg, cc, args)
		})
}

func AddCommand(mainCfg *MainConfig) *cli.Command {
	return adOpCommand(mainCfg, "add", "add [-x name] <key> <ad>",
		"store an ad under a key, replacing any ad there", add)
}

func UpdateCommand(mainCfg *MainConfig) *cli.Command {
	return adOpCommand(mainCfg, "update", "update [-x name] <key> <ad>",
		"merge attributes into a stored ad", update)
}

func ModifyCommand(mainCfg *MainConfig) *cli.Command {
	return adOpCommand(mainCfg, "modify", "modify [-x name] <key> <modification-ad>",
		"apply Set/Delete directives to a stored ad", modify)
}

func RemoveCommand(mainCfg *MainConfig) *cli.Command {
	return adOpCommand(mainCfg, "rm", "rm [-x name] <key>...",
		"remove stored ads", remove)
}

type LoadAdsConfig struct {
	*MainConfig
	Load    *cli.Command
	Xaction string `cli:"name=x desc='add everything in one transaction with this name'"`
	Local   bool   `cli:"name=local desc='make the transaction local'"`
}

func LoadCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &LoadAdsConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Load, "load").
		WithSynopsis("load [-x name [-local]] [file]").
		WithDescription(loadDescription).
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return load(cfg, cc, args)
		})
}

const loadDescription = `load adds ads read from a file, or stdin when the file is "-" or absent.

Each non-empty line holds a key followed by an ad:

  slot1@host1 [ Arch = "X86_64"; Cpus = 8 ]

Lines starting with '#' are ignored.  With -x all the ads are added in one
transaction, which commits only if every add succeeds.`

type ViewConfig struct {
	*MainConfig
	View *cli.Command
}

func ViewCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ViewConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.View, "view").
		WithAliases("v").
		WithSynopsis("view <subcommand>").
		WithDescription("inspect and manage views").
		WithSubs(
			ViewListCommand(cfg),
			ViewInfoCommand(cfg),
			ViewCreateCommand(cfg),
			ViewPartitionCommand(cfg),
			ViewSetCommand(cfg),
			ViewRemoveCommand(cfg),
			ViewFindCommand(cfg))
}

type ViewSubConfig struct {
	*ViewConfig
	Command *cli.Command
}

func viewSubCommand(vcfg *ViewConfig, name, synopsis, desc string, run func(*ViewSubConfig, *cli.Context, []string) error) *cli.Command {
	cfg := &ViewSubConfig{ViewConfig: vcfg}
	return cli.NewCommandAt(&cfg.Command, name).
		WithSynopsis(synopsis).
		WithDescription(desc).
		WithRun(func(cc *cli.Context, args []string) error {
			return run(cfg, cc, args)
		})
}

func ViewListCommand(vcfg *ViewConfig) *cli.Command {
	return viewSubCommand(vcfg, "list", "list [view]",
		"print the view tree below a view", viewList)
}

func ViewInfoCommand(vcfg *ViewConfig) *cli.Command {
	return viewSubCommand(vcfg, "info", "info <view>",
		"print the info ad of a view", viewInfo)
}

func ViewRemoveCommand(vcfg *ViewConfig) *cli.Command {
	return viewSubCommand(vcfg, "rm", "rm <view>",
		"delete a view and its descendants", viewRemove)
}

func ViewSetCommand(vcfg *ViewConfig) *cli.Command {
	return viewSubCommand(vcfg, "set", "set <view> <info-ad>",
		"replace the constraint, rank and partition expressions of a view", viewSet)
}

func ViewFindCommand(vcfg *ViewConfig) *cli.Command {
	return viewSubCommand(vcfg, "find", "find <view> <ad>",
		"print the partition of a view an ad belongs to", viewFind)
}

type ViewCreateConfig struct {
	*ViewConfig
	Create     *cli.Command
	Parent     string `cli:"name=parent desc='parent view' default=root"`
	Constraint string `cli:"name=req desc='Requirements expression'"`
	Rank       string `cli:"name=rank desc='Rank expression'"`
	Partition  string `cli:"name=partition desc='comma separated partition expressions'"`
}

func ViewCreateCommand(vcfg *ViewConfig) *cli.Command {
	cfg := &ViewCreateConfig{ViewConfig: vcfg, Parent: api.RootView}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Create, "create").
		WithSynopsis("create [-parent p] [-req expr] [-rank expr] [-partition e1,e2] <name>").
		WithDescription("create a subordinate view").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return viewCreate(cfg, cc, args)
		})
}

type ViewPartitionConfig struct {
	*ViewConfig
	Partition *cli.Command
	Parent    string `cli:"name=parent desc='partitioned view' default=root"`
	Name      string `cli:"name=name desc='partition name, derived from the representative by default'"`
}

func ViewPartitionCommand(vcfg *ViewConfig) *cli.Command {
	cfg := &ViewPartitionConfig{ViewConfig: vcfg, Parent: api.RootView}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Partition, "partition").
		WithSynopsis("partition [-parent p] [-name n] <representative-ad>").
		WithDescription("create the partition a representative ad belongs to").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return viewPartition(cfg, cc, args)
		})
}

type XactionConfig struct {
	*MainConfig
	Xaction   *cli.Command
	Committed bool `cli:"name=committed desc='list committed instead of active transactions'"`
}

func XactionCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &XactionConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Xaction, "xaction").
		WithAliases("x").
		WithSynopsis("xaction [-committed] [name...]").
		WithDescription("list server transactions, or print the state of the named ones").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return xactions(cfg, cc, args)
		})
}

type LogConfig struct {
	*MainConfig
	Log *cli.Command
}

func LogCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &LogConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Log, "log").
		WithSynopsis("log <subcommand>").
		WithDescription("offline tools for collection logs").
		WithSubs(
			LogDumpCommand(cfg),
			LogDiffCommand(cfg),
			LogCheckpointCommand(cfg))
}

type LogSubConfig struct {
	*LogConfig
	Command *cli.Command
	DryRun  bool `cli:"name=n desc='show the difference without rewriting'"`
}

func LogDumpCommand(lcfg *LogConfig) *cli.Command {
	cfg := &LogSubConfig{LogConfig: lcfg}
	return cli.NewCommandAt(&cfg.Command, "dump").
		WithSynopsis("dump <data-dir>").
		WithDescription("print the records of a collection log").
		WithRun(func(cc *cli.Context, args []string) error {
			return logDump(cfg, cc, args)
		})
}

func LogDiffCommand(lcfg *LogConfig) *cli.Command {
	cfg := &LogSubConfig{LogConfig: lcfg}
	return cli.NewCommandAt(&cfg.Command, "diff").
		WithSynopsis("diff <data-dir> <data-dir>").
		WithDescription("compare the records of two collection logs").
		WithRun(func(cc *cli.Context, args []string) error {
			return logDiff(cfg, cc, args)
		})
}

func LogCheckpointCommand(lcfg *LogConfig) *cli.Command {
	cfg := &LogSubConfig{LogConfig: lcfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "checkpoint").
		WithSynopsis("checkpoint [-n] <data-dir>").
		WithDescription("rewrite the log of a stopped server as its current state").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return logCheckpoint(cfg, cc, args)
		})
}
