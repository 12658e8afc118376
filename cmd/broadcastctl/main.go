// Command broadcastctl posts a signed Frame to a running coordroomd's
// /broadcast endpoint, for injecting server-originated events (tasks.*,
// agents.*) from scripts or other services. Grounded on the teacher's
// cmd/dbctl/main.go flag and output conventions.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/coordroom/coordroom/internal/ingress"
	"github.com/coordroom/coordroom/internal/types"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8765", "coordroomd base address")
	room := flag.String("room", "", "room id to broadcast into")
	frameType := flag.String("type", "", "frame type, e.g. tasks.blocked")
	payload := flag.String("payload", "{}", "JSON payload body")
	meta := flag.String("meta", "", "JSON meta body (optional)")
	requestID := flag.String("request-id", "", "optional requestId to correlate")
	secret := flag.String("secret", os.Getenv("COORDROOM_BROADCAST_SECRET"), "HMAC signing key")
	jsonOutput := flag.Bool("json", false, "output as JSON")
	flag.Parse()

	if *room == "" || *frameType == "" {
		fmt.Fprintf(os.Stderr, "Usage: broadcastctl -room <id> -type <frame.type> -payload '<json>' [-meta '<json>'] [-secret <key>]\n")
		os.Exit(1)
	}

	f := types.Frame{
		Type:      *frameType,
		Payload:   json.RawMessage(*payload),
		RequestID: *requestID,
	}
	if strings.TrimSpace(*meta) != "" {
		f.Meta = json.RawMessage(*meta)
	}

	body, err := json.Marshal(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal frame: %v\n", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("%s/broadcast?room=%s", strings.TrimRight(*addr, "/"), *room)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	if *secret != "" {
		req.Header.Set(ingress.SignatureHeader, ingress.Sign([]byte(*secret), body))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if *jsonOutput {
		fmt.Println(string(respBody))
	} else if resp.StatusCode == http.StatusOK {
		fmt.Printf("broadcast ok: room=%s type=%s\n", *room, *frameType)
	} else {
		fmt.Printf("broadcast failed: status=%d body=%s\n", resp.StatusCode, string(respBody))
	}

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
