package main

import (
	"Go2NetStats/internal/config"
	"Go2NetStats/internal/query"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query ns-statsd over HTTP, 'direct' to query ClickHouse directly.")
	apiAddr := flag.String("api", "http://localhost:8080", "Base URL of the ns-statsd API.")
	configPath := flag.String("config", "configs/config.yaml", "Config file holding the ClickHouse publisher settings (direct mode).")
	table := flag.String("table", "", "Table id (counters) or table name (history).")
	history := flag.Bool("history", false, "Query the ClickHouse history instead of the live counters (api mode).")
	cookie := flag.String("cookie", "", "Restrict the history to one cookie.")
	since := flag.Duration("since", time.Hour, "History window ending now.")
	limit := flag.Int("limit", 20, "Maximum number of history rows.")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		path := "/api/v1/counters"
		if *table != "" {
			path += "/" + *table
		}
		if *history {
			path = "/api/v1/history/" + *table
			q := url.Values{}
			q.Set("since", time.Now().Add(-*since).UTC().Format(time.RFC3339))
			q.Set("limit", strconv.Itoa(*limit))
			if *cookie != "" {
				q.Set("cookie", *cookie)
			}
			path += "?" + q.Encode()
		}
		queryViaAPI(*apiAddr + path)
	case "direct":
		req := query.HistoryRequest{TableName: *table, Since: time.Now().Add(-*since), Limit: *limit}
		if *cookie != "" {
			c, err := strconv.ParseUint(*cookie, 0, 64)
			if err != nil {
				log.Fatalf("Invalid cookie: %v", err)
			}
			req.Cookie = &c
		}
		directQueryClickHouse(*configPath, req)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(apiURL string) {
	log.Printf("Sending request to %s", apiURL)

	resp, err := http.Get(apiURL)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(respBody))
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
		log.Printf("Could not prettify JSON, printing raw response:")
		fmt.Println(string(respBody))
		return
	}
	fmt.Println(prettyJSON.String())
}

func directQueryClickHouse(configPath string, req query.HistoryRequest) {
	if req.TableName == "" {
		log.Fatalf("-table is required in direct mode.")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var chCfg *config.ClickHouseConfig
	for _, def := range cfg.Publishers {
		if def.Type == "clickhouse" {
			chCfg = &def.ClickHouse
			break
		}
	}
	if chCfg == nil {
		log.Fatalf("No ClickHouse publisher found in %s.", configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	querier, err := query.NewClickHouseQuerier(ctx, *chCfg)
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer querier.Close()

	totals, err := querier.History(ctx, req)
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	if len(totals) == 0 {
		log.Println("No data found for the specified criteria.")
		return
	}

	fmt.Printf("--- %s since %s ---\n", req.TableName, req.Since.Format(time.RFC3339))
	for _, t := range totals {
		fmt.Printf("%s\n", t.Key)
		fmt.Printf("  Packets: %d\n", t.Counters.Packets)
		fmt.Printf("  Bytes: %d\n", t.Counters.Bytes)
		fmt.Printf("  Epochs: %d (%s .. %s)\n", t.Epochs, t.FirstSeen.Format(time.RFC3339), t.LastSeen.Format(time.RFC3339))
	}
}
