// Package main runs a demo WebSocket client for the live webhook delivery feed.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type feedEvent struct {
	Type    string          `json:"type"`
	Attempt json.RawMessage `json:"attempt"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	owner := os.Getenv("OWNER_ID")
	if owner == "" {
		owner = "seller_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Local receiver so the dispatch has somewhere to land.
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("receiver <- %s %s", r.Header.Get("User-Agent"), r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	reg := map[string]any{
		"url":    receiver.URL,
		"events": []string{"order.paid"},
		"secret": "demo-secret",
		"active": true,
	}
	if err := post(base+"/v1/webhooks", owner, reg); err != nil {
		log.Fatal(err)
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/admin/webhook-deliveries/ws"}
	hdr := http.Header{}
	hdr.Set("X-Owner-Id", owner)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m feedEvent
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Attempt))
		}
	}()

	time.Sleep(500 * time.Millisecond)
	dispatch := map[string]any{
		"event":   "order.paid",
		"data":    map[string]any{"orderId": "ord_demo", "amount": 1500},
		"user_id": owner,
	}
	if err := post(base+"/v1/webhooks/dispatch", owner, dispatch); err != nil {
		log.Fatal(err)
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}

func post(endpoint, owner string, body any) error {
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-Id", owner)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: %s", endpoint, resp.Status)
	}
	log.Printf("POST %s: %s", endpoint, resp.Status)
	return nil
}
