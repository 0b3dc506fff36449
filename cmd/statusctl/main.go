// statusctl is the companion CLI for the worker's diagnostics surface:
// status polling and pause/resume/config control over plain HTTP.
// Grounded on cmd/mcpctl's cobra command tree, repointed from
// screenshot-capture subcommands to scanner control subcommands.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "statusctl",
	Short: "CLI tool for the confirmation-click worker",
	Long:  `statusctl polls and controls a running worker over its local diagnostics HTTP surface.`,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the worker's current state",
	Run: func(cmd *cobra.Command, args []string) {
		mustGet("/status")
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the worker's health endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		mustGet("/healthz")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause scanning",
	Run: func(cmd *cobra.Command, args []string) {
		mustPost("/control/pause")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume scanning",
	Run: func(cmd *cobra.Command, args []string) {
		mustPost("/control/resume")
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the scanner state machine",
	Run: func(cmd *cobra.Command, args []string) {
		mustPost("/control/stop")
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get or set worker configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the worker's current configuration",
	Run: func(cmd *cobra.Command, args []string) {
		mustGet("/config")
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set [json-file]",
	Short: "Replace the worker's configuration with the given JSON file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		mustPut("/config", raw)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8787", "worker diagnostics base URL")

	rootCmd.AddCommand(statusCmd, healthCmd, pauseCmd, resumeCmd, stopCmd, configCmd)
	configCmd.AddCommand(configGetCmd, configSetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func mustGet(path string) {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	printResponse(resp)
}

func mustPost(path string) {
	resp, err := httpClient.Post(serverURL+path, "application/json", nil)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	printResponse(resp)
}

func mustPut(path string, body []byte) {
	req, err := http.NewRequest(http.MethodPut, serverURL+path, bytes.NewReader(body))
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}
