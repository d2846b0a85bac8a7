package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notify posts any Event as a JSON body. A zero-value Webhook (no URL
// configured) is a no-op so callers can wire it unconditionally.
func (w *Webhook) Notify(event Event) error {
	if w.URL == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	client := http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest("POST", w.URL, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if w.Username != "" || w.Password != "" {
		req.SetBasicAuth(w.Username, w.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification via webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send notification via webhook: status %d", resp.StatusCode)
	}

	return nil
}
