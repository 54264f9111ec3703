// Command webhookgenerator sends signed synthetic Oura webhook notifications
// to a running ingest endpoint at a fixed interval. Useful for exercising the
// full ingest path without a registered Oura subscription.
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/sqltj/oura-streaming/internal/events"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid interval duration:", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 10 * time.Second}
	for {
		if err := sendNotification(client, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "webhook error:", err)
		}
		<-ticker.C
	}
}

func loadConfig(path string) (config, error) {
	if strings.TrimSpace(path) == "" {
		return config{}, fmt.Errorf("config path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return config{}, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	cfg.Interval = strings.TrimSpace(cfg.Interval)

	if cfg.BaseURL == "" {
		return config{}, fmt.Errorf("config must include base_url")
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if len(cfg.DataTypes) == 0 {
		cfg.DataTypes = events.DataTypes
	}
	if cfg.Interval == "" {
		cfg.Interval = "10s"
	}

	parsed, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return config{}, fmt.Errorf("invalid interval duration: %w", err)
	}
	if parsed <= 0 {
		return config{}, fmt.Errorf("interval must be positive")
	}

	return cfg, nil
}

func sendNotification(client *http.Client, cfg config) error {
	dataType := cfg.DataTypes[rand.Intn(len(cfg.DataTypes))]
	now := time.Now().UTC()

	body, err := json.Marshal(map[string]any{
		"data_type":  dataType,
		"event_type": events.EventTypeCreate,
		"user_id":    cfg.UserID,
		"timestamp":  now.Format(time.RFC3339),
		"data": map[string]any{
			"id":    uuid.NewString(),
			"day":   now.Format("2006-01-02"),
			"score": 50 + rand.Intn(50),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	request, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		strings.TrimRight(cfg.BaseURL, "/")+"/webhooks", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if cfg.Secret != "" {
		request.Header.Set("X-Oura-Signature", sign(body, cfg.Secret))
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook failed: %s", strings.TrimSpace(string(payload)))
	}

	fmt.Printf("Webhook status: %s (%s)\n", resp.Status, dataType)
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
