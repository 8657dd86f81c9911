// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main provides the retunnel CLI: `start` runs a tunnel client
// against an edge server, `server` runs the edge server, and `status`
// queries a running edge server's /status endpoint.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.StandardLogger()

func main() {
	root := &cobra.Command{
		Use:   "retunnel",
		Short: "Expose a local server to the public internet through a reverse tunnel",
	}
	root.AddCommand(newStartCmd())
	root.AddCommand(newServerCmd())
	root.AddCommand(newStatusCmd())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
