package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	apiURL  string
	token   string
)

var rootCmd = &cobra.Command{
	Use:   "notifircctl",
	Short: "notifircctl is a CLI for a running notifirc instance",
	Long:  `A terminal tool for checking status, following live notifications and managing the config of a notifirc daemon over its HTTP API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.notifircctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", "http://127.0.0.1:8765", "notifirc API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "notifirc API token")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".notifircctl")
	}

	viper.SetEnvPrefix("NOTIFIRC")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// apiRequest performs an authenticated call against the daemon.
func apiRequest(method, path string) (*http.Response, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, viper.GetString("url")+path, nil)
	if err != nil {
		return nil, err
	}
	if t := viper.GetString("token"); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("unauthorized: pass --token or set NOTIFIRC_TOKEN")
	}
	return resp, nil
}

func main() {
	Execute()
}
