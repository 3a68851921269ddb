package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	brokerclient "github.com/rzbill/llmq/internal/client"
)

const brokerFlag = "broker"

// brokerAddrFromEnv returns the broker address from LLMQ_BROKER_ADDR or a default.
func brokerAddrFromEnv() string {
	if addr := os.Getenv("LLMQ_BROKER_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// addBrokerFlag adds the persistent --broker flag to a command group.
func addBrokerFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(brokerFlag, brokerAddrFromEnv(), "Broker gRPC address (env LLMQ_BROKER_ADDR)")
}

// withClient dials the broker named by --broker and closes the client after fn.
func withClient(cmd *cobra.Command, fn func(*brokerclient.Client) error) error {
	addr := brokerAddrFromEnv()
	if f := cmd.Flag(brokerFlag); f != nil && f.Value.String() != "" {
		addr = f.Value.String()
	}
	cli, err := brokerclient.Dial(cmd.Context(), addr)
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	return fn(cli)
}

// parseHeaders reads repeated key=value flags.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, hv := range raw {
		if hv == "" {
			continue
		}
		k, v, ok := strings.Cut(hv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --header, expected key=value: %s", hv)
		}
		headers[strings.TrimSpace(k)] = v
	}
	return headers, nil
}

// decodedPayload returns one of payload_json, payload_text or payload_b64.
func decodedPayload(out map[string]any, payload []byte) map[string]any {
	if len(payload) > 0 && (payload[0] == '{' || payload[0] == '[') {
		var v any
		if json.Unmarshal(payload, &v) == nil {
			out["payload_json"] = v
			return out
		}
	}
	if utf8.Valid(payload) {
		out["payload_text"] = string(payload)
		return out
	}
	out["payload_b64"] = base64.StdEncoding.EncodeToString(payload)
	return out
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
