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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		server  string
		secure  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running edge server's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheme := "http"
			if secure {
				scheme = "https"
			}
			url := fmt.Sprintf("%s://%s/status", scheme, server)

			httpClient := &http.Client{Timeout: timeout}
			resp, err := httpClient.Get(url)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server responded with %s: %s", resp.Status, body)
			}

			var pretty map[string]interface{}
			if err := json.Unmarshal(body, &pretty); err != nil {
				fmt.Println(string(body))
				return nil
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				fmt.Println(string(body))
				return nil
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "localhost:3456", "edge server host[:port]")
	cmd.Flags().BoolVar(&secure, "secure", false, "query over https instead of http")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "HTTP request timeout")

	return cmd
}
