// previewctl is the operator CLI for a running previewd instance.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "previewctl",
		Short: "Administer a previewd instance",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "previewd base URL")

	root.AddCommand(requestCmd(), statsCmd(), invalidateCmd(), rateLimitCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func requestCmd() *cobra.Command {
	var (
		userID      string
		previewType string
		width       int
		height      int
		format      string
		fit         string
		watermark   bool
	)

	cmd := &cobra.Command{
		Use:   "request <fileUrl>",
		Short: "Request a preview for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"fileUrl":     args[0],
				"userId":      userID,
				"previewType": previewType,
				"options": map[string]any{
					"width":     width,
					"height":    height,
					"format":    format,
					"fit":       fit,
					"watermark": watermark,
				},
			}
			return postJSON("/v1/preview", body)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "admin", "user id for the request")
	cmd.Flags().StringVar(&previewType, "type", "thumbnail", "preview type: thumbnail or full")
	cmd.Flags().IntVar(&width, "width", 200, "target width")
	cmd.Flags().IntVar(&height, "height", 200, "target height")
	cmd.Flags().StringVar(&format, "format", "jpeg", "output format: jpeg, png or webp")
	cmd.Flags().StringVar(&fit, "fit", "contain", "fit mode: contain, cover or fill")
	cmd.Flags().BoolVar(&watermark, "watermark", false, "stamp a watermark")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/admin/cache/stats", nil)
		},
	}
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <fileUrl>",
		Short: "Remove every cached preview derived from a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/admin/cache/invalidate", map[string]string{"fileUrl": args[0]})
		},
	}
}

func rateLimitCmd() *cobra.Command {
	var userID, ip string

	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Show the current rate limit window for a caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/admin/ratelimit/status", url.Values{"userId": {userID}, "ip": {ip}})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&ip, "ip", "", "caller IP address")
	return cmd
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func postJSON(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func getJSON(path string, query url.Values) error {
	target := serverURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, err := httpClient.Get(target)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
	} else {
		fmt.Println(pretty.String())
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
