/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	collect "github.com/blnkfinance/collect"
	"github.com/blnkfinance/collect/config"
	"github.com/blnkfinance/collect/database"
	"github.com/blnkfinance/collect/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Collect is the CLI application.
type Collect struct {
	cmd *cobra.Command
}

// collectInstance holds the collector and configuration shared by every subcommand.
type collectInstance struct {
	collector *collect.Collector
	cnf       *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the collector before any command runs.
// The config and migrate commands only need configuration.
func preRun(app *collectInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations["skip_collector"] == "true" {
			return nil
		}

		collector, err := setupCollector(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.collector = collector
		return nil
	}
}

func setupCollector(cfg *config.Configuration) (*collect.Collector, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	collector, err := collect.NewCollector(db)
	if err != nil {
		return nil, fmt.Errorf("error creating collector: %v", err)
	}
	return collector, nil
}

func NewCLI() *Collect {
	var configFile string
	c := &collectInstance{}

	var rootCmd = &cobra.Command{
		Use:   "collect",
		Short: "Debit-order premium collection",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./collect.json", "Configuration file")
	rootCmd.PersistentPreRunE = preRun(c, &configFile)

	rootCmd.AddCommand(serverCommands(c))
	rootCmd.AddCommand(workerCommands(c))
	rootCmd.AddCommand(migrateCommands(c))
	rootCmd.AddCommand(batchCommands(c))
	rootCmd.AddCommand(configCommands())

	return &Collect{cmd: rootCmd}
}

func (w Collect) executeCLI() {
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
