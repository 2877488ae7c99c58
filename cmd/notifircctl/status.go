package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's runtime and config summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiRequest(http.MethodGet, "/api/status")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var st struct {
			Running   bool `json:"running"`
			Reloading bool `json:"reloading"`
			Watchers  int  `json:"watchers"`
			Clients   struct {
				Total   int `json:"total"`
				Enabled int `json:"enabled"`
			} `json:"clients"`
			Servers struct {
				Total   int `json:"total"`
				Enabled int `json:"enabled"`
			} `json:"servers"`
			Events struct {
				Total   int `json:"total"`
				Enabled int `json:"enabled"`
			} `json:"events"`
			Sinks struct {
				Total   int `json:"total"`
				Enabled int `json:"enabled"`
			} `json:"sinks"`
			ConfigPath string `json:"configPath"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("parse status: %w", err)
		}

		state := "STOPPED"
		if st.Running {
			state = "RUNNING"
		}
		if st.Reloading {
			state += " (reloading)"
		}
		fmt.Printf("State:     %s\n", state)
		fmt.Printf("Config:    %s\n", st.ConfigPath)
		fmt.Printf("Watchers:  %d\n", st.Watchers)
		fmt.Printf("Clients:   %d/%d enabled\n", st.Clients.Enabled, st.Clients.Total)
		fmt.Printf("Servers:   %d/%d enabled\n", st.Servers.Enabled, st.Servers.Total)
		fmt.Printf("Events:    %d/%d enabled\n", st.Events.Enabled, st.Events.Total)
		fmt.Printf("Sinks:     %d/%d enabled\n", st.Sinks.Enabled, st.Sinks.Total)
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon's config from disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiRequest(http.MethodPost, "/api/config/reload")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reload failed: %s", resp.Status)
		}
		fmt.Println("reloaded")
		return nil
	},
}
