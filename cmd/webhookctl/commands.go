package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	webhooksvc "storefront/internal/service/webhook"
)

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign [payload-file]",
		Short: "Print the signature header value for a payload (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd)
			if err != nil {
				return err
			}
			body, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhooksvc.Sign(secret, body))
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [payload-file]",
		Short: "Sign a payload and post it to a running webhook endpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().StringP("url", "u", "http://localhost:8080/webhooks/commerce", "Webhook endpoint")
	cmd.Flags().StringP("topic", "t", webhooksvc.TopicOrdersPaid, "Webhook topic")
	cmd.Flags().String("id", "", "Delivery id (random when empty)")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	secret, err := secretFlag(cmd)
	if err != nil {
		return err
	}
	body, err := readPayload(cmd, args)
	if err != nil {
		return err
	}
	endpoint, _ := cmd.Flags().GetString("url")
	topic, _ := cmd.Flags().GetString("topic")
	id, _ := cmd.Flags().GetString("id")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooksvc.HeaderTopic, topic)
	req.Header.Set(webhooksvc.HeaderDeliveryID, id)
	req.Header.Set(webhooksvc.HeaderSignature, webhooksvc.Sign(secret, body))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "delivery %s topic %s -> %s\n", id, topic, resp.Status)
	if text := strings.TrimSpace(string(reply)); text != "" {
		fmt.Fprintln(out, text)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint answered %s", resp.Status)
	}
	return nil
}

func secretFlag(cmd *cobra.Command) (string, error) {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		return "", errors.New("a signing secret is required (--secret or COMMERCE_WEBHOOK_SECRET)")
	}
	return secret, nil
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return body, nil
}
