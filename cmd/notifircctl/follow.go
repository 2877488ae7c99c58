package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Follow delivered notifications in real-time",
	RunE: func(cmd *cobra.Command, args []string) error {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)

		u, err := url.Parse(viper.GetString("url"))
		if err != nil {
			return err
		}
		scheme := "ws"
		if u.Scheme == "https" {
			scheme = "wss"
		}
		wsURL := url.URL{
			Scheme:   scheme,
			Host:     u.Host,
			Path:     "/api/events/ws",
			RawQuery: "token=" + url.QueryEscape(viper.GetString("token")),
		}
		fmt.Printf("Connecting to %s://%s...\n", scheme, u.Host)

		c, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer c.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, message, err := c.ReadMessage()
				if err != nil {
					log.Println("read:", err)
					return
				}
				var n struct {
					Sink  string `json:"sink"`
					Event struct {
						Name string `json:"name"`
					} `json:"event"`
					Title     string    `json:"title"`
					Body      string    `json:"body"`
					Timestamp time.Time `json:"timestamp"`
				}
				if err := json.Unmarshal(message, &n); err != nil {
					continue
				}
				fmt.Printf("[%s] \033[32m%s\033[0m -> %s: %s",
					n.Timestamp.Format("15:04:05"), n.Event.Name, n.Sink, n.Title)
				if n.Body != "" && n.Body != n.Title {
					fmt.Printf(" | %s", n.Body)
				}
				fmt.Println()
			}
		}()

		for {
			select {
			case <-done:
				return nil
			case <-interrupt:
				err := c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				if err != nil {
					return nil
				}
				select {
				case <-done:
				case <-time.After(time.Second):
				}
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(followCmd)
}
