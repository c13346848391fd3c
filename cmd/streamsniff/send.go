package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgnsrekt/streamsniff/internal/relay"
	"github.com/dgnsrekt/streamsniff/internal/types"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	url         string
	tab         string
	pageURL     string
	streamIndex int
	value       string
	kid         string
	key         string
	timeout     time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send <action>",
	Short: "Send one message to a running engine and print the reply",
	Long: `Send one message-channel request to a running streamsniff over WebSocket.

Actions: getStreams, getDRMPackage, getPageDRMPackage, cachePageInfo,
getCachedDRM, enableMonitoring, widevineKeyFound, dec, navigate, tabRemoved.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendFlags.url, "url", "", "engine WebSocket url (default ws://SNIFF_BIND_ADDR/api/v1/ws)")
	sendCmd.Flags().StringVar(&sendFlags.tab, "tab", "", "tab id")
	sendCmd.Flags().StringVar(&sendFlags.pageURL, "page-url", "", "page url for package actions")
	sendCmd.Flags().IntVar(&sendFlags.streamIndex, "stream-index", -1, "stream index for getDRMPackage")
	sendCmd.Flags().StringVar(&sendFlags.value, "value", "", "value for dec")
	sendCmd.Flags().StringVar(&sendFlags.kid, "kid", "", "key id for widevineKeyFound")
	sendCmd.Flags().StringVar(&sendFlags.key, "key", "", "content key for widevineKeyFound")
	sendCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 30*time.Second, "reply timeout")
}

func buildMessage(action string) relay.Message {
	msg := relay.Message{
		TabID:   types.TabID(sendFlags.tab),
		PageURL: sendFlags.pageURL,
	}
	switch action {
	case relay.ActionDecode:
		msg.Name = action
		msg.Value = sendFlags.value
	case relay.ActionKeyFound:
		msg.Action = action
		msg.Data = &types.DetectedKey{KID: sendFlags.kid, Key: sendFlags.key}
	default:
		msg.Action = action
	}
	if sendFlags.streamIndex >= 0 {
		idx := sendFlags.streamIndex
		msg.StreamIndex = &idx
	}
	return msg
}

func runSend(cmd *cobra.Command, args []string) error {
	url := sendFlags.url
	if url == "" {
		url = "ws://" + cfg.BindAddr + "/api/v1/ws"
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendFlags.timeout)
	defer cancel()

	client, err := relay.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	reply, err := client.Send(ctx, buildMessage(args[0]))
	if err != nil {
		return fmt.Errorf("send %s: %w", args[0], err)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, reply, "", "  "); err != nil {
		out.Reset()
		out.Write(reply)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(os.Stdout)
	return err
}
