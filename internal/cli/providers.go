package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/pkg/gateway"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	providersOnline bool
	providersCore   string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List providers known to the core",
	Long: `List the providers registered with a running core, with their status
and advertised capabilities. Uses the gateway JSON-RPC endpoint.`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().BoolVar(&providersOnline, "online", false, "only list online providers")
	providersCmd.Flags().StringVar(&providersCore, "core", "", "core gateway URL (default derived from the config)")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	baseURL := providersCore
	if baseURL == "" {
		baseURL = gatewayURL(cfg)
	}

	method := "registry.list"
	if providersOnline {
		method = "registry.listOnline"
	}

	providers, err := listProviders(baseURL, cfg.Gateway.SharedSecret, method)
	if err != nil {
		return err
	}

	if len(providers) == 0 {
		cmd.Println("No providers registered.")
		return nil
	}

	renderProviders(cmd.OutOrStdout(), providers)
	return nil
}

// gatewayURL turns the configured listen address into a dialable URL
func gatewayURL(cfg *config.Config) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port))
}

func listProviders(baseURL, secret, method string) ([]registry.Provider, error) {
	body, err := json.Marshal(gateway.RPCRequest{ID: "cli", Method: method, JSONRPC: "2.0"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(gateway.SecretHeader, secret)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach core at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("core returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var rpcResp struct {
		Result *struct {
			Providers []registry.Provider `json:"providers"`
			Count     int                 `json:"count"`
		} `json:"result"`
		Error *gateway.RPCError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("%s failed: %s", method, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, nil
	}
	return rpcResp.Result.Providers, nil
}

func renderProviders(w io.Writer, providers []registry.Provider) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Instance", "Address", "Status", "Capabilities", "Last Heartbeat"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, p := range providers {
		names := make([]string, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			names = append(names, c.Name)
		}
		table.Append([]string{
			p.InstanceID,
			p.Address,
			string(p.Status),
			strings.Join(names, ", "),
			p.LastHeartbeat.Format(time.RFC3339),
		})
	}

	table.Render()
}
