package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the daemon's config as a gzipped bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiRequest(http.MethodGet, "/api/config/export")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("export failed: %s", resp.Status)
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d bytes)\n", exportOut, n)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "notifirc-config.json.gz", "output file")
	rootCmd.AddCommand(exportCmd)
}
