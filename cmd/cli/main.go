package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL   string
	noAutoStart bool
	rootCmd     = &cobra.Command{
		Use:   "offline-dl",
		Short: "Offline Downloader CLI - Manage offline video downloads",
		Long:  `A command-line interface for managing DRM-protected offline video downloads.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().BoolVar(&noAutoStart, "no-auto-start", false, "Don't auto-start server if not running")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(renewCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(completedCmd)
	rootCmd.AddCommand(qualityCmd)
}

// ensureServer checks if server is running and starts it if needed (unless --no-auto-start)
func ensureServer() {
	if noAutoStart {
		return
	}
	if err := ensureServerRunning(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// itemPayload builds the download item body shared by all item commands
func itemPayload(cmd *cobra.Command, url string) map[string]interface{} {
	pathID, _ := cmd.Flags().GetString("path")
	programID, _ := cmd.Flags().GetString("program")
	account, _ := cmd.Flags().GetString("account")

	payload := map[string]interface{}{
		"pathId":        pathID,
		"programPathId": programID,
		"ua":            account,
	}
	if url != "" {
		payload["url"] = url
	}

	drmType, _ := cmd.Flags().GetString("drm-type")
	operator, _ := cmd.Flags().GetString("operator")
	licenseServer, _ := cmd.Flags().GetString("license-server")
	if drmType != "" {
		payload["drm"] = map[string]string{
			"type":          drmType,
			"operator":      operator,
			"licenseServer": licenseServer,
		}
	}
	return payload
}

func postItem(endpoint string, payload interface{}) {
	data, _ := json.Marshal(payload)
	resp, err := http.Post(serverURL+endpoint, "application/json", bytes.NewBuffer(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
		os.Exit(1)
	}

	var result map[string]interface{}
	if json.Unmarshal(body, &result) == nil && result["identifier"] != nil {
		fmt.Printf("Identifier: %s\n", result["identifier"])
	}
}

var startCmd = &cobra.Command{
	Use:   "start [url]",
	Short: "Start downloading an asset",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postItem("/api/v1/downloads/start", itemPayload(cmd, args[0]))
		fmt.Println("Download started")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [url]",
	Short: "Resume a paused download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postItem("/api/v1/downloads/resume", itemPayload(cmd, args[0]))
		fmt.Println("Download resumed")
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause a download",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postItem("/api/v1/downloads/pause", itemPayload(cmd, ""))
		fmt.Println("Download paused")
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a download and its cached files",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postItem("/api/v1/downloads/delete", itemPayload(cmd, ""))
		fmt.Println("Download deleted")
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew [url]",
	Short: "Renew the offline license of a completed download",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		postItem("/api/v1/downloads/renew", itemPayload(cmd, args[0]))
		fmt.Println("License renewal requested; result arrives on the event stream")
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all downloads",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		printDownloads(serverURL + "/api/v1/downloads")
	},
}

var completedCmd = &cobra.Command{
	Use:   "completed",
	Short: "List completed, unexpired downloads for an account",
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()
		account, _ := cmd.Flags().GetString("account")
		printDownloads(serverURL + "/api/v1/downloads/completed?account=" + account)
	},
}

var qualityCmd = &cobra.Command{
	Use:   "quality [LOW|MEDIUM|HIGH]",
	Short: "Set the preferred download quality",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ensureServer()

		data, _ := json.Marshal(map[string]string{"quality": args[0]})
		req, _ := http.NewRequest(http.MethodPut, serverURL+"/api/v1/downloads/quality", bytes.NewBuffer(data))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
			os.Exit(1)
		}
		fmt.Println("Quality updated")
	},
}

func printDownloads(url string) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: %s\n", string(body))
		os.Exit(1)
	}

	var downloads []map[string]interface{}
	json.Unmarshal(body, &downloads)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTIFIER\tPATH\tACCOUNT\tSTATE\tPROGRESS")
	for _, d := range downloads {
		loaded, _ := d["bytesDownloaded"].(float64)
		total, _ := d["totalBytes"].(float64)
		progress := "-"
		if total > 0 {
			progress = fmt.Sprintf("%.0f%%", loaded/total*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncate(stringField(d, "identifier"), 12),
			truncate(stringField(d, "pathId"), 30),
			stringField(d, "ua"),
			stringField(d, "state"),
			progress)
	}
	w.Flush()
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func init() {
	for _, cmd := range []*cobra.Command{startCmd, resumeCmd, pauseCmd, deleteCmd, renewCmd} {
		cmd.Flags().StringP("path", "p", "", "Content path identifier (required)")
		cmd.Flags().String("program", "", "Program path identifier")
		cmd.Flags().StringP("account", "a", "", "Account the download belongs to (required)")
		cmd.MarkFlagRequired("path")
		cmd.MarkFlagRequired("account")
	}
	for _, cmd := range []*cobra.Command{startCmd, renewCmd} {
		cmd.Flags().String("drm-type", "", "DRM system (e.g. fairplay)")
		cmd.Flags().String("operator", "", "License operator (azure, verimatrix, nagra)")
		cmd.Flags().String("license-server", "", "License server URL")
	}
	completedCmd.Flags().StringP("account", "a", "", "Account to filter by (required)")
	completedCmd.MarkFlagRequired("account")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
