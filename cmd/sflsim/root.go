package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/sflsim/internal/command"
	"github.com/vkngwrapper/sflsim/internal/config"
	"github.com/vkngwrapper/sflsim/memutils"
	"golang.org/x/exp/slog"
)

// Exit status of a process killed by SIGSEGV, as a shell reports it
const segmentationFaultExitCode = 139

type rootFlags struct {
	configPath string
	logLevel   string
	jsonOut    bool
	colorOut   bool
	validate   bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:   "sflsim [script]",
		Short: "Simulate a segregated free list heap",
		Long: `sflsim runs a heap allocation script against a simulated segregated free list
allocator. Commands are read from the script file, or from standard input when no file
is given, until DESTROY_HEAP or the end of input.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, flags, args)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML or YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "Write DUMP_MEMORY output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flags.colorOut, "color", false, "Highlight error messages")
	rootCmd.PersistentFlags().BoolVar(&flags.validate, "validate", false, "Check heap invariants after every command")

	return rootCmd
}

func execute() {
	err := newRootCmd().Execute()
	if errors.Is(err, memutils.ErrSegmentationFault) {
		os.Exit(segmentationFaultExitCode)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flags given on the command line over it
func loadConfig(cmd *cobra.Command, flags rootFlags) (config.Config, error) {
	c := config.Default()
	if flags.configPath != "" {
		var err error
		c, err = config.Load(flags.configPath)
		if err != nil {
			return c, err
		}
	}

	set := cmd.Flags()
	if set.Changed("log-level") {
		c.LogLevel = flags.logLevel
	}
	if set.Changed("json") {
		c.DumpFormat = string(command.DumpText)
		if flags.jsonOut {
			c.DumpFormat = string(command.DumpJSON)
		}
	}
	if set.Changed("color") {
		c.Color = flags.colorOut
	}
	if set.Changed("validate") {
		c.ValidateHeap = flags.validate
	}

	return c, c.Validate()
}

func runScript(cmd *cobra.Command, flags rootFlags, args []string) error {
	c, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	level, err := c.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open script %s", args[0])
		}
		defer file.Close()
		in = file
	}

	dispatcher := command.NewDispatcher(logger, cmd.OutOrStdout(), command.Options{
		DumpFormat: command.DumpFormat(c.DumpFormat),
		Color:      c.Color,
		Validate:   c.ValidateHeap,
	})
	return dispatcher.Run(cmd.Context(), in)
}
