// Command batchdb_cli is an interactive shell around an in-process engine.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/kyungjunlee/multiversioning/config"
	"github.com/kyungjunlee/multiversioning/pkg/logger"
	"github.com/spf13/cobra"
)

const splash = `batchdb shell. Type "help" for the list of commands.
`

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var seed uint64

	cmd := &cobra.Command{
		Use:          "batchdb_cli",
		Short:        "Interactive batchdb shell",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg := config.Default()
			// Keep the prompt readable unless the file says otherwise.
			cfg.Logger.Level = "warn"
			cfg.Logger.Format = "console"
			cfg.Logger.OutputFile = "stderr"
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			log, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			sh, err := newShell(cfg, seed, log)
			if err != nil {
				return err
			}
			defer sh.close()
			return readLoop(sh, c.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "workload generator seed")
	return cmd
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".batchdb")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return ""
	}
	return filepath.Join(dir, "cli_history")
}

func readLoop(sh *shell, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "batchdb> ",
		HistoryFile:     historyPath(),
		HistoryLimit:    10000,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprint(out, splash)
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("reading line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		quit, err := sh.exec(line, out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, c := range commands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}
