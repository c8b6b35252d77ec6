// Armada CLI — инструмент командной строки оператора флота.
//
// Использование:
//
//	armada [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	fleet   Состояние, здоровье и деплой флота
//	node    Retry/stop узла и запись guard
//	events  Журнал событий
package main

import (
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/shaiso/Armada/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool
	var requestedBy string

	rootCmd := &cobra.Command{
		Use:           "armada",
		Short:         "Armada CLI — fleet deployment and resolver guard",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8090"
	if v := os.Getenv("ARMADA_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Deployer API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&requestedBy, "as", currentUser(), "Operator name recorded with commands")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, requestedBy) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewFleetCmd(clientFn, outputFn),
		cli.NewNodeCmd(clientFn, outputFn),
		cli.NewEventsCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		cli.NewOutput(jsonOutput).Error(err.Error())
		os.Exit(1)
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
