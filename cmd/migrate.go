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

	collect "github.com/blnkfinance/collect"
	"github.com/blnkfinance/collect/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

var skipCollector = map[string]string{"skip_collector": "true"}

func migrateCommands(c *collectInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "apply or roll back database migrations",
		Annotations: skipCollector,
	}

	cmd.AddCommand(migrateRunCommand(c, "up", migrate.Up))
	cmd.AddCommand(migrateRunCommand(c, "down", migrate.Down))

	return cmd
}

func migrateRunCommand(c *collectInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Annotations: skipCollector,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: collect.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(c.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetSchema("collect")

			n, err := migrate.Exec(db, "postgres", migrations, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Applied %d migrations %s!\n", n, use)
		},
	}
}
