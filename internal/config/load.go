package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
)

// ErrInvalid tags every configuration error so main can map it to exit
// code 2. Use errors.Is to test for it.
var ErrInvalid = errors.New("config: invalid configuration")

// fileConfig is the raw shape of the TOML config file: a handful of
// process-wide keys, a [defaults] table, and zero or more [[account]]
// tables. The tables stay as primitives so each account can be decoded
// twice, first from [defaults] and then from its own block, giving
// table-level layering without per-field bookkeeping.
type fileConfig struct {
	LogLevel    string           `toml:"log_level"`
	LogFormat   string           `toml:"log_format"`
	LogFile     string           `toml:"log_file"`
	WebUI       bool             `toml:"webui"`
	WebUIListen string           `toml:"webui_listen"`
	Defaults    toml.Primitive   `toml:"defaults"`
	Accounts    []toml.Primitive `toml:"account"`
}

// loadFile reads and parses the config file. A missing file is an error
// only when the path was explicitly requested; the default path is
// optional so first runs work without any file.
func loadFile(path string, explicit bool) (*fileConfig, *toml.MetaData, error) {
	if path == "" {
		return &fileConfig{}, nil, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, nil, fmt.Errorf("%w: config file %s does not exist", ErrInvalid, path)
		}

		return &fileConfig{}, nil, nil
	}

	var file fileConfig

	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalid, path, err)
	}

	return &file, &md, nil
}

// Resolve applies the full override chain and returns typed, validated
// accounts: built-in defaults, then the config file ([defaults], then
// the matching [[account]] block), then ICLOUD_* environment variables,
// then the CLI defaults segment, then the per-account CLI segment.
// Accounts come from the CLI when any --username is given, otherwise
// from the config file's [[account]] blocks, otherwise a single account
// is assembled from defaults alone.
func Resolve(args []string, env EnvOverrides) (*Resolved, error) {
	defaultsSeg, accountSegs := SplitAccountArgs(args)

	// First parse of the defaults segment only to learn --config.
	globals := DefaultGlobals()
	scratch := DefaultOptions()

	if err := newSegmentParser(&scratch, &globals).parse(defaultsSeg); err != nil {
		return nil, err
	}

	cfgPath := DefaultConfigPath()
	explicit := false

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		explicit = true
	}

	if globals.ConfigPath != "" {
		cfgPath = globals.ConfigPath
		explicit = true
	}

	file, md, err := loadFile(cfgPath, explicit)
	if err != nil {
		return nil, err
	}

	// Re-derive globals now that the file is known, keeping CLI wins:
	// defaults, file, environment, then the defaults segment again.
	globals = DefaultGlobals()
	applyFileGlobals(&globals, file)

	if env.LogLevel != "" {
		globals.LogLevel = env.LogLevel
	}

	scratch = DefaultOptions()
	if err := newSegmentParser(&scratch, &globals).parse(defaultsSeg); err != nil {
		return nil, err
	}

	globals.ConfigPath = cfgPath

	base := DefaultOptions()

	if md != nil && md.IsDefined("defaults") {
		if err := md.PrimitiveDecode(file.Defaults, &base); err != nil {
			return nil, fmt.Errorf("%w: [defaults]: %w", ErrInvalid, err)
		}
	}

	fileAccounts := make([]Options, 0, len(file.Accounts))

	for i := range file.Accounts {
		o := cloneOptions(base)
		if err := md.PrimitiveDecode(file.Accounts[i], &o); err != nil {
			return nil, fmt.Errorf("%w: [[account]] %d: %w", ErrInvalid, i+1, err)
		}

		fileAccounts = append(fileAccounts, o)
	}

	if md != nil {
		if err := checkUnknownKeys(md); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, cfgPath, err)
		}
	}

	rawAccounts, err := assembleAccounts(base, fileAccounts, defaultsSeg, accountSegs, env)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Globals: globals}

	var errs []error

	for i := range rawAccounts {
		acct, buildErrs := buildAccount(&rawAccounts[i])
		if len(buildErrs) > 0 {
			errs = append(errs, buildErrs...)
			continue
		}

		resolved.Accounts = append(resolved.Accounts, acct)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	return resolved, nil
}

// assembleAccounts picks the account list source and layers the CLI
// segments over each one.
func assembleAccounts(
	base Options, fileAccounts []Options, defaultsSeg []string, accountSegs [][]string, env EnvOverrides,
) ([]Options, error) {
	applyCLI := func(o *Options, seg []string) error {
		g := DefaultGlobals()
		return newSegmentParser(o, &g).parse(seg)
	}

	if len(accountSegs) > 0 {
		out := make([]Options, 0, len(accountSegs))

		for _, seg := range accountSegs {
			o := cloneOptions(base)
			if match := findFileAccount(fileAccounts, segmentUsername(seg)); match != nil {
				o = cloneOptions(*match)
			}

			env.apply(&o)

			if err := applyCLI(&o, defaultsSeg); err != nil {
				return nil, err
			}

			if err := applyCLI(&o, seg); err != nil {
				return nil, err
			}

			out = append(out, o)
		}

		return out, nil
	}

	if len(fileAccounts) > 0 {
		out := make([]Options, 0, len(fileAccounts))

		for i := range fileAccounts {
			o := cloneOptions(fileAccounts[i])
			env.apply(&o)

			if err := applyCLI(&o, defaultsSeg); err != nil {
				return nil, err
			}

			out = append(out, o)
		}

		return out, nil
	}

	o := cloneOptions(base)
	env.apply(&o)

	if err := applyCLI(&o, defaultsSeg); err != nil {
		return nil, err
	}

	return []Options{o}, nil
}

// findFileAccount returns the [[account]] block whose username matches,
// or nil. CLI segments without a username never match.
func findFileAccount(fileAccounts []Options, username string) *Options {
	if username == "" {
		return nil
	}

	for i := range fileAccounts {
		if fileAccounts[i].Username == username {
			return &fileAccounts[i]
		}
	}

	return nil
}

// cloneOptions copies an Options value deeply enough that layering one
// account never leaks slice or pointer state into another.
func cloneOptions(o Options) Options {
	c := o
	c.PasswordProviders = slices.Clone(o.PasswordProviders)
	c.Albums = slices.Clone(o.Albums)
	c.Sizes = slices.Clone(o.Sizes)

	if o.KeepICloudRecentDays != nil {
		v := *o.KeepICloudRecentDays
		c.KeepICloudRecentDays = &v
	}

	return c
}

// applyFileGlobals copies the file's process-wide keys onto the globals.
func applyFileGlobals(g *Globals, file *fileConfig) {
	if file.LogLevel != "" {
		g.LogLevel = file.LogLevel
	}

	if file.LogFormat != "" {
		g.LogFormat = file.LogFormat
	}

	if file.LogFile != "" {
		g.LogFile = file.LogFile
	}

	if file.WebUI {
		g.WebUI = true
	}

	if file.WebUIListen != "" {
		g.WebUIListen = file.WebUIListen
	}
}
