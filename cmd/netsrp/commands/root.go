package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fzdarsky/netsrp/internal/config"
	"github.com/fzdarsky/netsrp/internal/lifecycle"
	"github.com/fzdarsky/netsrp/internal/logging"
)

// app holds what every command needs after flag parsing.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *logging.Logger
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute(version, commit string) error {
	interrupter := lifecycle.NewInterrupter()
	defer interrupter.Stop()

	ctx := interrupter.Start(context.Background())
	err := newRootCommand(version, commit).ExecuteContext(ctx)
	if err != nil && interrupter.Interrupted() {
		fmt.Fprintln(os.Stderr, "interrupted:", interrupter.Reason())
	}
	return err
}

func newRootCommand(version, commit string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "netsrp",
		Short:        "SRP-6a handshake credentials and self-test",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}

			// Validated by config.Load
			level, _ := logging.ParseLevel(cfg.Logging.Level)
			format, _ := logging.ParseFormat(cfg.Logging.Format)

			a.cfg = cfg
			a.logger = logging.New(level, format)
			a.logger.SetOutput(cmd.ErrOrStderr(), cmd.ErrOrStderr())
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to configuration file (defaults apply when empty)")

	root.AddCommand(verifierCmd(a), selftestCmd(a))
	return root
}
