package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tumapay/tuma"
	"github.com/tumapay/tuma/config"
	"github.com/tumapay/tuma/database"
	"github.com/tumapay/tuma/internal/notification"
)

// Tuma represents the CLI application, encapsulating the root Cobra command.
type Tuma struct {
	cmd *cobra.Command
}

// tumaInstance holds the service instance and its configuration, shared by
// every subcommand.
type tumaInstance struct {
	tuma *tuma.Tuma
	cnf  *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the service before any
// subcommand runs.
func preRun(app *tumaInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newTuma, err := setupTuma(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.tuma = newTuma
		app.cnf = cnf

		return nil
	}
}

func setupTuma(cfg *config.Configuration) (*tuma.Tuma, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newTuma, err := tuma.NewTuma(db)
	if err != nil {
		return nil, fmt.Errorf("error creating tuma: %v", err)
	}
	return newTuma, nil
}

// NewCLI creates the command-line interface for the Tuma payments service.
func NewCLI() *Tuma {
	var configFile string
	b := &tumaInstance{}

	var rootCmd = &cobra.Command{
		Use:   "tuma",
		Short: "Mobile money payments accounting core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./tuma.json", "Configuration file for the tuma server")
	rootCmd.PersistentPreRunE = preRun(b, &configFile)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Tuma{cmd: rootCmd}
}

func (w Tuma) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
